package semantic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raglite/raglite/engine/domain"
)

// newTestStore builds a store against an address that is never dialed;
// grpc.NewClient connects lazily, so client-side validation paths run
// without a backend.
func newTestStore(t *testing.T, opts Options) *VectorStore {
	t.Helper()
	store, err := New("localhost:1", "", "test-collection", 3, opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsert_RejectsOversizedBatch(t *testing.T) {
	store := newTestStore(t, Options{MaxBatch: 2})

	records := []domain.IndexedRecord{
		{ID: "0", Vector: []float32{1, 2, 3}},
		{ID: "1", Vector: []float32{1, 2, 3}},
		{ID: "2", Vector: []float32{1, 2, 3}},
	}
	err := store.Upsert(context.Background(), records)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("err = %v, want ErrBatchTooLarge", err)
	}
}

func TestUpsert_RejectsDimensionMismatch(t *testing.T) {
	store := newTestStore(t, DefaultOptions())

	records := []domain.IndexedRecord{
		{ID: "0", Vector: []float32{1, 2}}, // collection is 3-dimensional
	}
	err := store.Upsert(context.Background(), records)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsert_RejectsNonNumericID(t *testing.T) {
	store := newTestStore(t, DefaultOptions())

	records := []domain.IndexedRecord{
		{ID: "abc", Vector: []float32{1, 2, 3}},
	}
	if err := store.Upsert(context.Background(), records); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestUpsert_EmptyBatchIsNoop(t *testing.T) {
	store := newTestStore(t, DefaultOptions())
	if err := store.Upsert(context.Background(), nil); err != nil {
		t.Errorf("empty upsert: %v", err)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxBatch != 50 {
		t.Errorf("MaxBatch = %d, want 50", opts.MaxBatch)
	}
	if opts.ReadyPoll.Seconds() != 1 {
		t.Errorf("ReadyPoll = %v, want 1s", opts.ReadyPoll)
	}
}

// fakeCollections stubs the collections RPCs. Get serves statuses in
// order, repeating the last one; a non-nil getErr fails every poll.
type fakeCollections struct {
	pb.CollectionsClient
	mu       sync.Mutex
	existing []string
	created  []string
	statuses []pb.CollectionStatus
	getErr   error
	gets     int
}

func (f *fakeCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &pb.ListCollectionsResponse{}
	for _, name := range f.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: name})
	}
	return resp, nil
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (f *fakeCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{Status: st}}, nil
}

func (f *fakeCollections) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func newFakeStore(fc *fakeCollections, opts Options) *VectorStore {
	return &VectorStore{
		collections: fc,
		collection:  "test-collection",
		dims:        3,
		opts:        opts,
	}
}

func TestEnsureCollection_ExistingSkipsCreateAndWait(t *testing.T) {
	fc := &fakeCollections{existing: []string{"test-collection"}}
	store := newFakeStore(fc, DefaultOptions())

	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(fc.created) != 0 {
		t.Errorf("created = %v, want none", fc.created)
	}
	if fc.getCount() != 0 {
		t.Errorf("status polls = %d, want 0 for existing collection", fc.getCount())
	}
}

func TestEnsureCollection_WaitsUntilGreen(t *testing.T) {
	fc := &fakeCollections{
		statuses: []pb.CollectionStatus{
			pb.CollectionStatus_Yellow,
			pb.CollectionStatus_Yellow,
			pb.CollectionStatus_Green,
		},
	}
	store := newFakeStore(fc, Options{MaxBatch: 50, ReadyPoll: time.Millisecond, ReadyTimeout: time.Second})

	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if fc.created[0] != "test-collection" {
		t.Errorf("created = %v, want test-collection", fc.created)
	}
	if fc.getCount() < 3 {
		t.Errorf("status polls = %d, want at least 3", fc.getCount())
	}
}

func TestWaitReady_NeverGreenTimesOut(t *testing.T) {
	fc := &fakeCollections{statuses: []pb.CollectionStatus{pb.CollectionStatus_Yellow}}
	store := newFakeStore(fc, Options{MaxBatch: 50, ReadyPoll: time.Millisecond, ReadyTimeout: 15 * time.Millisecond})

	err := store.waitReady(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestWaitReady_TimeoutReportsLastPollError(t *testing.T) {
	fc := &fakeCollections{getErr: status.Error(codes.Unavailable, "connection refused")}
	store := newFakeStore(fc, Options{MaxBatch: 50, ReadyPoll: time.Millisecond, ReadyTimeout: 15 * time.Millisecond})

	err := store.waitReady(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v, want the last poll failure included", err)
	}
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	fc := &fakeCollections{statuses: []pb.CollectionStatus{pb.CollectionStatus_Yellow}}
	store := newFakeStore(fc, Options{MaxBatch: 50, ReadyPoll: time.Second, ReadyTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.waitReady(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "limit"), true},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad vector"), false},
		{"unauthenticated", status.Error(codes.Unauthenticated, "key"), false},
		{"batch too large", ErrBatchTooLarge, false},
		{"dimension mismatch", ErrDimensionMismatch, false},
		{"not ready", ErrNotReady, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
