// Package search answers similarity queries: embed the query text, ask the
// vector store for the nearest records, and assemble the ranked result list.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/raglite/raglite/engine/domain"
	"github.com/raglite/raglite/engine/semantic"
	"github.com/raglite/raglite/pkg/resilience"
)

// Embedder turns text into a fixed-dimensional vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts vector store similarity search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error)
}

// Match is one ranked query hit.
type Match struct {
	ID       string   `json:"id"`
	Document string   `json:"document"`
	Metadata Metadata `json:"metadata"`
	Score    float32  `json:"score"`
}

// Metadata locates a match in its source corpus.
type Metadata struct {
	Source     string `json:"source"`
	LineNumber int    `json:"line_number"`
}

// Options configures the query path.
type Options struct {
	TopK          int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          3,
		SearchTimeout: 5 * time.Second,
	}
}

// Service is the query service. Stateless; safe for concurrent use when
// the underlying store client is.
type Service struct {
	embed   Embedder
	search  Searcher
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New creates a query Service. A nil breaker disables circuit breaking.
func New(embed Embedder, searcher Searcher, breaker *resilience.Breaker, opts Options, logger *slog.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embed:   embed,
		search:  searcher,
		breaker: breaker,
		opts:    opts,
		logger:  logger,
	}
}

// Search embeds q and returns the top matches in the store's descending
// score order. An empty or whitespace-only q fails with
// domain.ErrEmptyQuery before any embedding call is made; provider and
// store failures propagate wrapped.
func (s *Service) Search(ctx context.Context, q string) ([]Match, error) {
	if err := domain.ValidateQuery(q); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("engine/search").Start(ctx, "search.query")
	defer span.End()
	span.SetAttributes(attribute.Int("query.len", len(q)))

	vec, err := s.embed.Embed(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed")
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	var results []semantic.SearchResult
	run := func(ctx context.Context) error {
		var serr error
		results, serr = s.search.Search(ctx, vec, s.opts.TopK)
		return serr
	}
	if s.breaker != nil {
		err = s.breaker.Call(searchCtx, run)
	} else {
		err = run(searchCtx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
		return nil, fmt.Errorf("search: query store: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:       r.ID,
			Document: r.Text,
			Metadata: Metadata{Source: r.Source, LineNumber: r.LineNumber},
			Score:    r.Score,
		}
	}
	s.logger.Info("search done", "matches", len(matches))
	return matches, nil
}
