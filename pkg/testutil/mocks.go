// Package testutil provides common testing utilities and mock upstreams.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// TimeoutError is a net.Error that reports a timeout.
type TimeoutError struct{}

func (TimeoutError) Error() string   { return "i/o timeout" }
func (TimeoutError) Timeout() bool   { return true }
func (TimeoutError) Temporary() bool { return true }

// Step is one scripted answer of a MockDoer: either a response or an error.
type Step struct {
	Status int
	Body   string
	Err    error
}

// MockDoer is an httputil.Doer that replays scripted steps in order and
// repeats the last one once the script is exhausted.
type MockDoer struct {
	mu       sync.Mutex
	steps    []Step
	requests []*http.Request
	bodies   []string
}

// NewMockDoer creates a doer answering with the given steps.
func NewMockDoer(steps ...Step) *MockDoer {
	return &MockDoer{steps: steps}
}

// Do implements httputil.Doer.
func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body string
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	if len(m.steps) == 0 {
		return nil, fmt.Errorf("mock doer: no steps scripted")
	}
	idx := len(m.requests) - 1
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	step := m.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	return &http.Response{
		StatusCode: step.Status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(step.Body)),
		Request:    req,
	}, nil
}

// Calls returns how many requests were sent.
func (m *MockDoer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the i-th request sent.
func (m *MockDoer) Request(i int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// Body returns the body of the i-th request sent.
func (m *MockDoer) Body(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[i]
}

// MockCapabilities is a scripted capability and policy upstream. It can
// delay, fail with an error or panic.
type MockCapabilities struct {
	Status  int
	Payload httputil.Payload
	Err     error
	Delay   time.Duration
	Panic   bool

	mu    sync.Mutex
	calls int
}

// NewMockCapabilities answers 200 with payload.
func NewMockCapabilities(payload httputil.Payload) *MockCapabilities {
	return &MockCapabilities{Status: http.StatusOK, Payload: payload}
}

// FailingCapabilities answers status with {"detail": detail}.
func FailingCapabilities(status int, detail string) *MockCapabilities {
	return &MockCapabilities{Status: status, Payload: httputil.DetailPayload(detail)}
}

// GetCapabilities implements the capability fetcher interface.
func (m *MockCapabilities) GetCapabilities(ctx context.Context, _, _, _ string) (int, httputil.Payload, error) {
	return m.answer(ctx)
}

// GetEffectivePolicy implements the policy fetcher interface.
func (m *MockCapabilities) GetEffectivePolicy(ctx context.Context, _, _, _ string) (int, httputil.Payload, error) {
	return m.answer(ctx)
}

// Calls returns how many times the mock was invoked.
func (m *MockCapabilities) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockCapabilities) answer(ctx context.Context) (int, httputil.Payload, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return 0, httputil.Payload{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Panic {
		panic("mock upstream panic")
	}
	if m.Err != nil {
		return 0, httputil.Payload{}, m.Err
	}
	return m.Status, m.Payload, nil
}
