// Package upstream contains thin typed adapters for the platform services the
// gateway aggregates. Each adapter builds a request, propagates the
// correlation id and hands the call to a shared httputil.Executor; it never
// interprets the answer.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// ErrInvalidArgument is returned before any network call when a required
// identifier is empty.
var ErrInvalidArgument = errors.New("upstream: invalid argument")

// Config binds an adapter to its upstream.
type Config struct {
	BaseURL  string
	Executor *httputil.Executor
}

// Client is the shared part of every adapter.
type Client struct {
	baseURL  string
	executor *httputil.Executor
}

func newClient(cfg Config) Client {
	return Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		executor: cfg.Executor,
	}
}

// BaseURL returns the upstream base URL without trailing slash.
func (c Client) BaseURL() string {
	return c.baseURL
}

func (c Client) get(ctx context.Context, path string, query url.Values, correlationID string) (int, httputil.Payload) {
	return c.executor.Do(ctx, httputil.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + path,
		Query:  query,
		Header: propagationHeaders(correlationID, ""),
	})
}

func (c Client) post(ctx context.Context, path string, body interface{}, correlationID, idempotencyKey string) (int, httputil.Payload) {
	return c.executor.Do(ctx, httputil.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + path,
		Header: propagationHeaders(correlationID, idempotencyKey),
		Body:   body,
	})
}

// capabilities fetches GET /integration/capabilities, which every platform
// service exposes with the same query contract.
func (c Client) capabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error) {
	if strings.TrimSpace(consumerSystem) == "" || strings.TrimSpace(tenantID) == "" {
		return 0, httputil.Payload{}, fmt.Errorf("capabilities: consumer system and tenant id are required: %w", ErrInvalidArgument)
	}
	query := url.Values{
		"consumerSystem": []string{consumerSystem},
		"tenantId":       []string{tenantID},
	}
	status, payload := c.get(ctx, "/integration/capabilities", query, correlationID)
	return status, payload, nil
}

func propagationHeaders(correlationID, idempotencyKey string) http.Header {
	header := http.Header{}
	if correlationID != "" {
		header.Set(logging.CorrelationHeader, correlationID)
	}
	if idempotencyKey != "" {
		header.Set(httputil.IdempotencyHeader, idempotencyKey)
	}
	return header
}

// resolveIdempotencyKey keeps a caller-supplied key or generates one.
func resolveIdempotencyKey(key string) string {
	if k := strings.TrimSpace(key); k != "" {
		return k
	}
	return uuid.NewString()
}

func requireID(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required: %w", name, ErrInvalidArgument)
	}
	return nil
}
