// Command ingest reads a newline-delimited corpus file, embeds each
// non-empty line, and upserts the vectors into Qdrant in batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/raglite/raglite/engine/domain"
	"github.com/raglite/raglite/engine/ingest"
	"github.com/raglite/raglite/engine/semantic"
	"github.com/raglite/raglite/pkg/metrics"
	"github.com/raglite/raglite/pkg/natsutil"
	"github.com/raglite/raglite/pkg/openai"
	"github.com/raglite/raglite/pkg/resilience"
)

var met = metrics.New()

var (
	mLinesRead    = met.Counter("raglite_ingest_lines_total", "Non-empty corpus lines read")
	mRecords      = met.Counter("raglite_ingest_records_total", "Records written to the vector store")
	mSkipped      = met.Counter("raglite_ingest_skipped_total", "Lines skipped after embed failure")
	mRunSeconds   = met.Histogram("raglite_ingest_run_duration_seconds", "Whole-run duration", nil)
	mEmbedSeconds = met.Histogram("raglite_ingest_embed_duration_seconds", "Per-line embed latency", nil)
)

func main() {
	var (
		file         = flag.String("file", "paragraphs.txt", "newline-delimited corpus file")
		qdrantAddr   = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection   = flag.String("collection", envOr("COLLECTION", "rag-gadgets"), "Qdrant collection name")
		maxLines     = flag.Int("max-lines", 200, "cap on non-empty lines processed")
		batch        = flag.Int("batch", 50, "upsert batch size")
		workers      = flag.Int("workers", 4, "concurrent embed calls in flight")
		embedRate    = flag.Float64("embed-rate", 10, "embed calls per second")
		readyTimeout = flag.Duration("ready-timeout", 60*time.Second, "collection readiness wait bound")
		natsURL      = flag.String("nats", os.Getenv("NATS_URL"), "NATS URL for dead-letter events (empty disables)")
		metricsPort  = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	openaiKey := os.Getenv("OPENAI_API_KEY")
	qdrantKey := os.Getenv("QDRANT_API_KEY")
	if openaiKey == "" {
		logger.Error("configuration invalid", "err", fmt.Errorf("%w: OPENAI_API_KEY", domain.ErrMissingCredential))
		os.Exit(1)
	}
	if qdrantKey == "" {
		logger.Error("configuration invalid", "err", fmt.Errorf("%w: QDRANT_API_KEY", domain.ErrMissingCredential))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(*metricsPort)

	// Read the corpus up front; a missing file aborts before any paid call.
	records, err := ingest.ReadFile(*file, *file)
	if err != nil {
		logger.Error("corpus read failed", "err", err)
		os.Exit(1)
	}
	mLinesRead.Add(int64(len(records)))
	logger.Info("corpus loaded", "file", *file, "lines", len(records))

	storeOpts := semantic.DefaultOptions()
	storeOpts.MaxBatch = *batch
	storeOpts.ReadyTimeout = *readyTimeout
	store, err := semantic.New(*qdrantAddr, qdrantKey, *collection, openai.DefaultDims, storeOpts)
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to Qdrant", "collection", *collection, "dims", openai.DefaultDims)

	embedder := openai.NewEmbedClient(openaiKey, os.Getenv("OPENAI_BASE_URL"), openai.DefaultModel)
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: *embedRate, Burst: *workers})

	deps := ingest.Deps{
		Embedder: timedEmbedder{embedder},
		Store:    store,
		Limiter:  limiter,
		Logger:   logger,
	}

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Close()
		deps.DeadLetter = func(ctx context.Context, dl ingest.DeadLetter) {
			mSkipped.Inc()
			if err := natsutil.Publish(ctx, nc, ingest.DeadLetterSubject, dl); err != nil {
				logger.Error("dead-letter publish failed", "err", err)
			}
		}
	} else {
		deps.DeadLetter = func(context.Context, ingest.DeadLetter) { mSkipped.Inc() }
	}

	opts := ingest.DefaultOptions()
	opts.MaxRecords = *maxLines
	opts.BatchSize = *batch
	opts.Workers = *workers

	start := time.Now()
	written, err := ingest.New(deps, opts).Run(ctx, records)
	mRunSeconds.Since(start)
	mRecords.Add(int64(written))
	if err != nil {
		logger.Error("ingestion failed", "written", written, "err", err)
		os.Exit(1)
	}
	logger.Info("ingestion complete", "written", written, "duration", time.Since(start))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// timedEmbedder records per-call embed latency.
type timedEmbedder struct {
	inner ingest.Embedder
}

func (t timedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := t.inner.Embed(ctx, text)
	mEmbedSeconds.Since(start)
	return vec, err
}
