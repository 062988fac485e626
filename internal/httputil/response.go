package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// =============================================================================
// Inbound responses
// =============================================================================

const maxRequestBytes = 1 << 20

// Problem is an application/problem+json body.
type Problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     string `json:"error_code"`
}

// WriteJSON writes data as a JSON response. Data that cannot be encoded is
// answered with a 500 problem instead of a truncated body.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		writeEncodeFailure(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeEncodeFailure(w http.ResponseWriter) {
	status := http.StatusInternalServerError
	body, _ := json.Marshal(Problem{
		Type:          "about:blank",
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        "An unexpected error occurred.",
		CorrelationID: w.Header().Get(logging.CorrelationHeader),
		ErrorCode:     "INTERNAL_ERROR",
	})
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// WriteProblem writes a problem+json response for the request. The
// correlation id comes from the request context.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	problem := Problem{
		Type:          "about:blank",
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: logging.CorrelationID(r.Context()),
		ErrorCode:     code,
	}
	if problem.Title == "" {
		problem.Title = "Error"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// ReadJSON decodes a JSON request body of at most 1 MiB into v.
func ReadJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(body) > maxRequestBytes {
		return fmt.Errorf("request body exceeds %d bytes", maxRequestBytes)
	}
	if strings.TrimSpace(string(body)) == "" {
		return fmt.Errorf("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
