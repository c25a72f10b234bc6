// Package main implements the similarity search API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/raglite/raglite/engine/domain"
	"github.com/raglite/raglite/engine/search"
	"github.com/raglite/raglite/engine/semantic"
	"github.com/raglite/raglite/pkg/metrics"
	"github.com/raglite/raglite/pkg/mid"
	"github.com/raglite/raglite/pkg/openai"
	"github.com/raglite/raglite/pkg/resilience"
)

var met = metrics.New()

var (
	mQueries    = met.Counter("raglite_search_queries_total", "Total search queries served")
	mBadQueries = met.Counter("raglite_search_bad_queries_total", "Queries rejected as empty")
	mErrors     = met.Counter("raglite_search_errors_total", "Queries failed on embed or store")
	mLatency    = met.Histogram("raglite_search_duration_seconds", "End-to-end search latency", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	MetricsPort   int
	OpenAIKey     string
	OpenAIBaseURL string
	QdrantAddr    string
	QdrantKey     string
	Collection    string
	CORSOrigin    string
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:          envOr("PORT", "8080"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		QdrantAddr:    envOr("QDRANT_ADDR", "localhost:6334"),
		QdrantKey:     os.Getenv("QDRANT_API_KEY"),
		Collection:    envOr("COLLECTION", "rag-gadgets"),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
	}
	cfg.MetricsPort, _ = strconv.Atoi(envOr("METRICS_PORT", "9090"))
	if cfg.OpenAIKey == "" {
		return cfg, fmt.Errorf("%w: OPENAI_API_KEY", domain.ErrMissingCredential)
	}
	if cfg.QdrantKey == "" {
		return cfg, fmt.Errorf("%w: QDRANT_API_KEY", domain.ErrMissingCredential)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(cfg.QdrantAddr, cfg.QdrantKey, cfg.Collection, openai.DefaultDims, semantic.DefaultOptions())
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	embedder := openai.NewEmbedClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, openai.DefaultModel)
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	svc := search.New(embedder, store, breaker, search.DefaultOptions(), logger)

	met.ServeAsync(cfg.MetricsPort)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/search", handleSearch(svc, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("raglite-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// searchResponse is the JSON body for GET /api/search.
type searchResponse struct {
	Results []search.Match `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Searcher is what the handler needs from the query service.
type Searcher interface {
	Search(ctx context.Context, q string) ([]search.Match, error)
}

func handleSearch(svc Searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mQueries.Inc()

		matches, err := svc.Search(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			if errors.Is(err, domain.ErrEmptyQuery) {
				mBadQueries.Inc()
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Query parameter 'q' is required"})
				return
			}
			mErrors.Inc()
			logger.Error("search failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		mLatency.Since(start)
		if matches == nil {
			matches = []search.Match{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Results: matches})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
