package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/greendelivery/coldchain/pkg/types"
)

// StatusError is returned when the ingestion endpoint answers with a non-2xx
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingestion returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("ingestion returned HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether resubmitting the same record could succeed.
// 4xx responses are final except 408 and 429.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	default:
		return true
	}
}

// maxErrorBody caps how much of an error response ends up in logs.
const maxErrorBody = 256

// HTTPStore POSTs records as JSON to an ingestion endpoint.
type HTTPStore struct {
	endpoint string
	key      string
	client   *http.Client
}

// NewHTTPStore creates an HTTPStore. A non-empty key is sent as a bearer
// token. client defaults to http.DefaultClient; per-attempt timeouts come
// from the context.
func NewHTTPStore(endpoint, key string, client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{endpoint: endpoint, key: key, client: client}
}

func (s *HTTPStore) Name() string { return "http" }

func (s *HTTPStore) Submit(ctx context.Context, rec *types.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return Permanent(fmt.Errorf("encode record: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.key != "" {
		req.Header.Set("Authorization", "Bearer "+s.key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}
