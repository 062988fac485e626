// Package httputil holds the gateway's outbound request executor, the Payload
// type every upstream answer is decoded into, and the inbound JSON and
// problem+json response helpers.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// =============================================================================
// Executor
// =============================================================================

const (
	// IdempotencyHeader carries the caller's idempotency key on mutating calls.
	IdempotencyHeader = "Idempotency-Key"

	// communicationFailure prefixes every synthetic transport failure detail.
	communicationFailure = "upstream communication failure: "

	maxResponseBytes = 8 << 20
)

// Transport failure classes reported in synthetic 503 details.
const (
	FailureTimeout   = "Timeout"
	FailureNetwork   = "NetworkError"
	FailureExhausted = "exhausted retries"
	FailureCircuit   = "circuit open"
	FailureCancelled = "Cancelled"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer receives one call per finished Executor.Do.
type Observer interface {
	ObserveUpstream(service string, status, attempts int, duration time.Duration)
}

// Request is one outbound call. Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   interface{}
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Service names the upstream in logs and metrics
	Service  string
	Client   Doer
	Policy   RetryPolicy
	Breaker  *Breaker
	Observer Observer
	Logger   *logging.Logger
}

// Executor issues upstream requests with per-attempt timeouts, exponential
// backoff and an optional circuit breaker. It never returns an error: every
// failure is reported as a status code and a Payload.
type Executor struct {
	service  string
	client   Doer
	policy   RetryPolicy
	breaker  *Breaker
	observer Observer
	logger   *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. A nil Client uses a plain http.Client;
// the per-attempt timeout comes from the policy.
func NewExecutor(cfg ExecutorConfig) *Executor {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		service:  cfg.Service,
		client:   client,
		policy:   cfg.Policy,
		breaker:  cfg.Breaker,
		observer: cfg.Observer,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Service returns the upstream name.
func (e *Executor) Service() string {
	return e.service
}

// Policy returns the retry policy in force.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Do sends req and returns the final status and payload.
//
// Transport failures (timeouts and network errors) are retried; statuses in
// RetryStatusCodes are retried while attempts remain and otherwise returned
// as received. When every attempt fails at the transport level the result is
// a synthetic 503 with detail "upstream communication failure: <class>".
func (e *Executor) Do(ctx context.Context, req Request) (int, Payload) {
	start := time.Now()
	status, payload, attempts := e.run(ctx, req)
	duration := time.Since(start)

	if e.observer != nil {
		e.observer.ObserveUpstream(e.service, status, attempts, duration)
	}
	e.logger.LogUpstream(ctx, e.service, req.Method, req.URL, status, attempts, duration)
	return status, payload
}

func (e *Executor) run(ctx context.Context, req Request) (int, Payload, int) {
	if e.policy.MaxRetries < 0 {
		return http.StatusServiceUnavailable, DetailPayload(communicationFailure + FailureExhausted), 0
	}
	if err := e.breaker.Allow(); err != nil {
		return http.StatusServiceUnavailable, DetailPayload(communicationFailure + FailureCircuit), 0
	}

	var body []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return http.StatusInternalServerError, DetailPayload(fmt.Sprintf("request encoding failure: %v", err)), 0
		}
		body = encoded
	}

	attempts := e.policy.Attempts()
	lastClass := FailureExhausted
	for attempt := 0; attempt < attempts; attempt++ {
		status, respBody, err := e.send(ctx, req, body)
		if err != nil {
			var buildErr *requestError
			if errors.As(err, &buildErr) {
				return http.StatusInternalServerError, DetailPayload(buildErr.Error()), attempt + 1
			}
			if ctx.Err() != nil {
				e.breaker.RecordFailure()
				return http.StatusServiceUnavailable, DetailPayload(communicationFailure + FailureCancelled), attempt + 1
			}
			lastClass = classifyTransportError(err)
			if attempt < attempts-1 {
				if e.sleep(ctx, e.policy.BackoffFor(attempt)) != nil {
					e.breaker.RecordFailure()
					return http.StatusServiceUnavailable, DetailPayload(communicationFailure + FailureCancelled), attempt + 1
				}
				continue
			}
			e.breaker.RecordFailure()
			return http.StatusServiceUnavailable, DetailPayload(communicationFailure + lastClass), attempt + 1
		}

		if e.policy.RetriesStatus(status) && attempt < attempts-1 {
			if e.sleep(ctx, e.policy.BackoffFor(attempt)) != nil {
				e.breaker.RecordFailure()
				return http.StatusServiceUnavailable, DetailPayload(communicationFailure + FailureCancelled), attempt + 1
			}
			continue
		}

		if status >= 500 {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
		return status, NewPayload(respBody), attempt + 1
	}

	return http.StatusServiceUnavailable, DetailPayload(communicationFailure + lastClass), attempts
}

type requestError struct {
	err error
}

func (e *requestError) Error() string {
	return fmt.Sprintf("invalid upstream request: %v", e.err)
}

// send performs a single attempt. Errors wrapping *requestError are not
// retryable; any other error is a transport failure.
func (e *Executor) send(ctx context.Context, req Request, body []byte) (int, []byte, error) {
	attemptCtx := ctx
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return 0, nil, &requestError{err: err}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// classifyTransportError maps a transport error onto Timeout or NetworkError.
func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureNetwork
}
