// Package fanout runs a batch of independent upstream calls concurrently and
// sorts their outcomes into successes and per-source errors.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// Fetch performs one upstream call. A non-nil error means the call could not
// be made at all; upstream failures are reported through the status code.
type Fetch func(ctx context.Context) (int, httputil.Payload, error)

// Call is one named member of a batch.
type Call struct {
	Name  string
	Fetch Fetch
}

// Outcome is the result of one Call.
type Outcome struct {
	Name    string
	Status  int
	Payload httputil.Payload
	Err     error
}

// Failed reports whether the call raised or answered with status >= 400.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.Status >= http.StatusBadRequest
}

// ErrorCode is UPSTREAM_EXCEPTION for a raised call and HTTP_<status> for an
// upstream error answer. It is empty for a success.
func (o Outcome) ErrorCode() string {
	switch {
	case o.Err != nil:
		return "UPSTREAM_EXCEPTION"
	case o.Status >= http.StatusBadRequest:
		return "HTTP_" + strconv.Itoa(o.Status)
	default:
		return ""
	}
}

// Detail describes a failed outcome.
func (o Outcome) Detail() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Payload.Detail()
}

// SourceError is the per-source error record of a partially failed batch.
type SourceError struct {
	Service    string `json:"service"`
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail"`
}

// AsError converts a failed outcome into a SourceError. A raised call is
// recorded with status 500.
func (o Outcome) AsError() SourceError {
	if o.Err != nil {
		return SourceError{
			Service:    o.Name,
			StatusCode: http.StatusInternalServerError,
			Detail:     "upstream_exception: " + o.Err.Error(),
		}
	}
	return SourceError{Service: o.Name, StatusCode: o.Status, Detail: o.Payload.Detail()}
}

// Recorder observes finished batches.
type Recorder interface {
	ObserveFanOut(operation string, calls, failures int)
}

var errNoFetch = errors.New("no fetch function configured")

// Run executes every call concurrently and waits for all of them. Outcomes
// are returned in call order. A panic inside a call is recovered into that
// call's outcome and never affects the others.
func Run(ctx context.Context, calls []Call) []Outcome {
	outcomes := make([]Outcome, len(calls))

	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(slot int, call Call) {
			defer wg.Done()
			outcomes[slot] = invoke(ctx, call)
		}(i, calls[i])
	}
	wg.Wait()

	return outcomes
}

func invoke(ctx context.Context, call Call) (out Outcome) {
	out.Name = call.Name
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Name: call.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if call.Fetch == nil {
		out.Err = errNoFetch
		return out
	}
	out.Status, out.Payload, out.Err = call.Fetch(ctx)
	return out
}

// Result is a classified batch.
type Result struct {
	// Sources holds the payload of every successful call.
	Sources map[string]httputil.Payload
	// Errors holds one record per failed call, in call order.
	Errors []SourceError
}

// PartialFailure reports whether any call failed.
func (r Result) PartialFailure() bool {
	return len(r.Errors) > 0
}

// Collect sorts outcomes into successes and errors. Every outcome lands in
// exactly one of the two.
func Collect(outcomes []Outcome) Result {
	result := Result{
		Sources: make(map[string]httputil.Payload, len(outcomes)),
		Errors:  make([]SourceError, 0),
	}
	for _, o := range outcomes {
		if o.Failed() {
			result.Errors = append(result.Errors, o.AsError())
			continue
		}
		result.Sources[o.Name] = o.Payload
	}
	return result
}
