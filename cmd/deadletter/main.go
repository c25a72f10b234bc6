// Command deadletter tails the ingestion dead-letter subject and logs every
// dropped corpus line, so operators can spot gaps and re-run ingestion.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"

	"github.com/raglite/raglite/engine/ingest"
	"github.com/raglite/raglite/pkg/metrics"
	"github.com/raglite/raglite/pkg/natsutil"
)

var met = metrics.New()

var mDropped = met.Counter("raglite_deadletter_lines_total", "Dead-lettered corpus lines observed")

func main() {
	var (
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS URL")
		metricsPort = flag.Int("metrics-port", 9092, "metrics HTTP port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		logger.Error("nats connect failed", "err", err)
		os.Exit(1)
	}
	defer nc.Drain()

	met.ServeAsync(*metricsPort)

	sub, err := natsutil.Subscribe(nc, ingest.DeadLetterSubject, func(_ context.Context, dl ingest.DeadLetter) {
		mDropped.Inc()
		logger.Warn("line dropped during ingestion",
			"source", dl.Source,
			"line", dl.LineNumber,
			"error", dl.Error,
		)
	})
	if err != nil {
		logger.Error("subscribe failed", "subject", ingest.DeadLetterSubject, "err", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("dead-letter consumer running", "subject", ingest.DeadLetterSubject)
	<-ctx.Done()
	logger.Info("shutting down")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
