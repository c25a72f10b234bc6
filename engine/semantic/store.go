// Package semantic owns all Qdrant operations: collection lifecycle,
// batched upserts, and k-NN similarity search.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/raglite/raglite/engine/domain"
)

var (
	// ErrNotReady means a freshly created collection did not report green
	// within the readiness timeout.
	ErrNotReady = errors.New("collection not ready")

	// ErrBatchTooLarge means Upsert was called with more records than the
	// configured batch cap.
	ErrBatchTooLarge = errors.New("upsert batch too large")

	// ErrDimensionMismatch means a record's vector length differs from the
	// collection dimensionality. The upsert fails rather than silently
	// truncating or padding.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Options bound the store's write batches and readiness wait.
type Options struct {
	// MaxBatch is the largest record count Upsert accepts per call.
	MaxBatch int
	// ReadyPoll is the interval between collection status polls.
	ReadyPoll time.Duration
	// ReadyTimeout bounds the readiness wait after collection creation.
	ReadyTimeout time.Duration
}

// DefaultOptions returns the store defaults.
func DefaultOptions() Options {
	return Options{
		MaxBatch:     50,
		ReadyPoll:    time.Second,
		ReadyTimeout: 60 * time.Second,
	}
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	opts        Options
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// A non-empty apiKey is attached to every RPC as "api-key" metadata.
func New(addr, apiKey, collection string, dims int, opts Options) (*VectorStore, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if apiKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(apiKey)))
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultOptions().MaxBatch
	}
	if opts.ReadyPoll <= 0 {
		opts.ReadyPoll = DefaultOptions().ReadyPoll
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultOptions().ReadyTimeout
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		opts:        opts,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// Collection returns the collection name the store operates on.
func (v *VectorStore) Collection() string { return v.collection }

// EnsureCollection creates the collection with cosine distance if it does
// not exist, then waits until it reports green. Idempotent: an existing
// collection is a no-op with no readiness wait.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return v.waitReady(ctx)
}

// waitReady polls collection status until green or the timeout expires.
func (v *VectorStore) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(v.opts.ReadyTimeout)
	ticker := time.NewTicker(v.opts.ReadyPoll)
	defer ticker.Stop()

	for {
		info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{
			CollectionName: v.collection,
		})
		if err == nil && info.GetResult().GetStatus() == pb.CollectionStatus_Green {
			return nil
		}
		if time.Now().After(deadline) {
			// Distinguish an unreachable backend from one still indexing.
			if err != nil {
				return fmt.Errorf("semantic: %w after %s: %s: last poll: %v", ErrNotReady, v.opts.ReadyTimeout, v.collection, err)
			}
			return fmt.Errorf("semantic: %w after %s: %s: status %s", ErrNotReady, v.opts.ReadyTimeout, v.collection, info.GetResult().GetStatus())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Upsert writes records by id, overwriting any existing point with the
// same id. The whole batch fails as a unit.
func (v *VectorStore) Upsert(ctx context.Context, records []domain.IndexedRecord) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > v.opts.MaxBatch {
		return fmt.Errorf("semantic: %w: %d > %d", ErrBatchTooLarge, len(records), v.opts.MaxBatch)
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if len(r.Vector) != v.dims {
			return fmt.Errorf("semantic: %w: record %s has %d dims, collection has %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), v.dims)
		}
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("semantic: record id %q is not numeric: %w", r.ID, err)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: id},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"text":        {Kind: &pb.Value_StringValue{StringValue: r.Text}},
				"source":      {Kind: &pb.Value_StringValue{StringValue: r.Source}},
				"line_number": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.LineNumber)}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search with payload, returning up to
// topK hits in the backend's descending score order.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			ID:    strconv.FormatUint(r.GetId().GetNum(), 10),
			Score: r.GetScore(),
		}
		for k, val := range r.GetPayload() {
			switch k {
			case "text":
				sr.Text = val.GetStringValue()
			case "source":
				sr.Source = val.GetStringValue()
			case "line_number":
				sr.LineNumber = int(val.GetIntegerValue())
			}
		}
		results[i] = sr
	}
	return results, nil
}

// Retryable classifies store errors for retry wrappers: transient backend
// conditions retry, everything else (not-found, invalid argument, local
// validation) fails fast.
func Retryable(err error) bool {
	if errors.Is(err, ErrBatchTooLarge) || errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrNotReady) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}
