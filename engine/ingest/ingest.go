// Package ingest embeds a bounded corpus of source records and writes them
// into the vector store in batches: read, embed with bounded concurrency,
// assign sequential ids in file order, flush.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/raglite/raglite/engine/domain"
	"github.com/raglite/raglite/engine/semantic"
	"github.com/raglite/raglite/pkg/fn"
	"github.com/raglite/raglite/pkg/openai"
	"github.com/raglite/raglite/pkg/resilience"
)

// Embedder turns text into a fixed-dimensional vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the slice of the vector store the pipeline writes through.
type Store interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, records []domain.IndexedRecord) error
}

// DeadLetterSubject is the NATS subject dropped lines are published to.
const DeadLetterSubject = "raglite.ingest.deadletter"

// DeadLetter describes a source line dropped after exhausting embed retries.
type DeadLetter struct {
	Source     string `json:"source"`
	LineNumber int    `json:"line_number"`
	Error      string `json:"error"`
}

// Deps holds the external collaborators of the pipeline.
type Deps struct {
	Embedder Embedder
	Store    Store
	// Limiter throttles embed calls. Optional.
	Limiter *resilience.Limiter
	// DeadLetter receives records dropped after embedding failed. Optional;
	// operators use it to detect gaps and re-run ingestion.
	DeadLetter func(ctx context.Context, dl DeadLetter)
	Logger     *slog.Logger
}

// Options bound the pipeline's cost and batch shape.
type Options struct {
	// MaxRecords caps how many non-empty lines are processed, in file order.
	MaxRecords int
	// BatchSize is the flush threshold for upserts.
	BatchSize int
	// Workers bounds concurrent embed calls in flight.
	Workers int
	// EmbedRetry wraps each embed call; non-retryable provider errors stop
	// early and the line is skipped.
	EmbedRetry fn.RetryOpts
	// UpsertRetry wraps each batch write; a batch that still fails aborts
	// the run without rolling back prior batches.
	UpsertRetry fn.RetryOpts
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		MaxRecords: 200,
		BatchSize:  50,
		Workers:    4,
		EmbedRetry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
			Retryable:   openai.Retryable,
		},
		UpsertRetry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Jitter:      true,
			Retryable:   semantic.Retryable,
		},
	}
}

// Pipeline is the ingestion pipeline. Construct with New, run once per corpus.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New wires a Pipeline. Zero-valued options fall back to defaults.
func New(deps Deps, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = def.MaxRecords
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.EmbedRetry.MaxAttempts <= 0 {
		opts.EmbedRetry = def.EmbedRetry
	}
	if opts.UpsertRetry.MaxAttempts <= 0 {
		opts.UpsertRetry = def.UpsertRetry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, opts: opts, log: log}
}

// Run ingests records and returns how many were written to the store.
// Per-record embedding failures are logged and skipped without consuming
// an id; a batch write that fails after retries aborts the run, leaving
// earlier batches in place.
func (p *Pipeline) Run(ctx context.Context, records []domain.SourceRecord) (int, error) {
	if err := p.deps.Store.EnsureCollection(ctx); err != nil {
		return 0, fmt.Errorf("ingest: ensure collection: %w", err)
	}

	if len(records) > p.opts.MaxRecords {
		p.log.Info("capping corpus", "lines", len(records), "cap", p.opts.MaxRecords)
		records = records[:p.opts.MaxRecords]
	}
	p.log.Info("starting ingestion", "lines", len(records))

	embedded := p.embedAll(ctx, records)

	// Ids are positional over successful embeddings, in file order.
	// ParMapResult preserves input order, so this stays deterministic even
	// with concurrent embedding.
	var indexed []domain.IndexedRecord
	for i, res := range embedded {
		vec, err := res.Unwrap()
		if err != nil {
			p.log.Error("embed failed, skipping line",
				"source", records[i].Source,
				"line", records[i].LineNumber,
				"error", err,
			)
			if p.deps.DeadLetter != nil {
				p.deps.DeadLetter(ctx, DeadLetter{
					Source:     records[i].Source,
					LineNumber: records[i].LineNumber,
					Error:      err.Error(),
				})
			}
			continue
		}
		indexed = append(indexed, domain.IndexedRecord{
			ID:         strconv.Itoa(len(indexed)),
			Vector:     vec,
			Text:       records[i].Text,
			Source:     records[i].Source,
			LineNumber: records[i].LineNumber,
		})
	}

	written := 0
	for _, batch := range fn.Chunk(indexed, p.opts.BatchSize) {
		batch := batch
		res := fn.Retry(ctx, p.opts.UpsertRetry, func(ctx context.Context) fn.Result[int] {
			if err := p.deps.Store.Upsert(ctx, batch); err != nil {
				return fn.Err[int](err)
			}
			return fn.Ok(len(batch))
		})
		n, err := res.Unwrap()
		if err != nil {
			return written, fmt.Errorf("ingest: upsert batch of %d: %w", len(batch), err)
		}
		written += n
		p.log.Info("flushed batch", "size", n, "written", written)
	}

	p.log.Info("ingestion complete", "written", written, "skipped", len(records)-written)
	return written, nil
}

// embedAll runs the embed stage over records with bounded concurrency,
// returning one result per record in input order.
func (p *Pipeline) embedAll(ctx context.Context, records []domain.SourceRecord) []fn.Result[[]float32] {
	base := func(ctx context.Context, r domain.SourceRecord) fn.Result[[]float32] {
		p.log.Debug("embedding line", "source", r.Source, "line", r.LineNumber)
		return fn.FromPair(p.deps.Embedder.Embed(ctx, r.Text))
	}

	stage := base
	if p.deps.Limiter != nil {
		stage = resilience.LimiterStageWait(p.deps.Limiter, stage)
	}
	stage = fn.TracedStage("ingest.embed", fn.RetryStage(p.opts.EmbedRetry, stage))

	return fn.ParMapResult(records, p.opts.Workers, func(r domain.SourceRecord) fn.Result[[]float32] {
		return stage(ctx, r)
	})
}
