// Package openai provides an OpenAI-backed embedding client.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the embedding model; its output dimensionality is
	// what the vector collection must be created with.
	DefaultModel = "text-embedding-3-small"

	// DefaultDims is the output dimensionality of DefaultModel.
	DefaultDims = 1536
)

// ErrMalformed marks a 200 response whose body could not be interpreted.
var ErrMalformed = errors.New("malformed embeddings response")

// EmbedClient calls the OpenAI embeddings endpoint.
type EmbedClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewEmbedClient creates an embedding client. An empty baseURL falls back
// to the public OpenAI API; an empty model falls back to DefaultModel.
func NewEmbedClient(apiKey, baseURL, model string) *EmbedClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &EmbedClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError is a non-2xx response from the embeddings endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai embed: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is worth another attempt.
// Rate limiting and server-side failures are; other 4xx (auth, validation)
// are not.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text. Embedded newlines are
// collapsed to single spaces first; the model degrades on literal newlines.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.ReplaceAll(text, "\n", " ")

	body, _ := json.Marshal(embedReq{Model: c.model, Input: []string{text}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformed)
	}
	return result.Data[0].Embedding, nil
}

// Retryable classifies embed errors for retry wrappers. API errors retry
// per status; malformed responses and cancelled contexts do not; transport
// failures (connection refused, timeouts on the wire) do.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
