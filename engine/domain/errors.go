// Package domain holds the shared types and sentinel errors of the
// ingestion and search engine.
package domain

import "errors"

// Sentinel errors. Components wrap these with call-site context; the HTTP
// boundary is the only place they are translated into status codes.
var (
	// ErrEmptyQuery marks a query that is empty or whitespace-only. Client
	// error, never retried, and never reaches the embedding provider.
	ErrEmptyQuery = errors.New("empty query")

	// ErrMissingCredential marks an absent API key at startup. Fatal.
	ErrMissingCredential = errors.New("missing credential")

	// ErrSourceMissing marks an unreadable ingestion source file. Fatal for
	// the ingestion run, reported before any embedding call is made.
	ErrSourceMissing = errors.New("source file missing")
)
