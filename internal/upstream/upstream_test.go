package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   map[string]interface{}
}

type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newRecordingServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured := capturedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &captured.Body)
		}
		rs.mu.Lock()
		rs.requests = append(rs.requests, captured)
		rs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) last(t *testing.T) capturedRequest {
	t.Helper()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.NotEmpty(t, rs.requests)
	return rs.requests[len(rs.requests)-1]
}

func (rs *recordingServer) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL + "/",
		Executor: httputil.NewExecutor(httputil.ExecutorConfig{
			Service: "test",
			Policy:  httputil.RetryPolicy{Timeout: time.Second},
		}),
	}
}

func TestCapabilitiesRequest(t *testing.T) {
	server := newRecordingServer(t, 200, `{"sourceService":"pas","features":[]}`)
	client := NewPASClient(testConfig(server.URL))

	status, payload, err := client.GetCapabilities(context.Background(), "BFF", "default", "corr_1")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "pas", payload.Get("sourceService").String())

	req := server.last(t)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/integration/capabilities", req.Path)
	assert.Equal(t, []string{"BFF"}, req.Query["consumerSystem"])
	assert.Equal(t, []string{"default"}, req.Query["tenantId"])
	assert.Equal(t, "corr_1", req.Header.Get("X-Correlation-Id"))
}

func TestCapabilitiesRejectsBlankArguments(t *testing.T) {
	server := newRecordingServer(t, 200, `{}`)
	clients := map[string]interface {
		GetCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error)
	}{
		"pas": NewPASClient(testConfig(server.URL)),
		"pa":  NewPAClient(testConfig(server.URL)),
		"dpm": NewDPMClient(testConfig(server.URL)),
		"ras": NewRASClient(testConfig(server.URL)),
	}
	for name, client := range clients {
		t.Run(name, func(t *testing.T) {
			_, _, err := client.GetCapabilities(context.Background(), "BFF", " ", "corr_1")
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
	assert.Equal(t, 0, server.count())
}

func TestPASCoreSnapshotRequest(t *testing.T) {
	server := newRecordingServer(t, 200, `{"portfolio":{"portfolio_id":"P 1"}}`)
	client := NewPASClient(testConfig(server.URL))

	_, _, err := client.GetCoreSnapshot(context.Background(), CoreSnapshotRequest{
		PortfolioID: "P 1",
		Sections:    []string{SectionOverview, SectionHoldings},
	}, "corr_2")
	require.NoError(t, err)

	req := server.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/integration/portfolios/P%201/core-snapshot", req.Path)
	assert.Nil(t, req.Body["asOfDate"])
	assert.Equal(t, []interface{}{"OVERVIEW", "HOLDINGS"}, req.Body["includeSections"])
	assert.Equal(t, "BFF", req.Body["consumerSystem"])
	assert.Empty(t, req.Header.Get("Idempotency-Key"))

	_, _, err = client.GetCoreSnapshot(context.Background(), CoreSnapshotRequest{}, "corr_2")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPASEffectivePolicyAndLookups(t *testing.T) {
	server := newRecordingServer(t, 200, `{"items":[]}`)
	client := NewPASClient(testConfig(server.URL))

	_, _, err := client.GetEffectivePolicy(context.Background(), "BFF", "t1", "corr")
	require.NoError(t, err)
	req := server.last(t)
	assert.Equal(t, "/integration/policy/effective", req.Path)
	assert.Equal(t, []string{"t1"}, req.Query["tenantId"])

	_, _, err = client.GetInstrumentLookups(context.Background(), 200, "corr")
	require.NoError(t, err)
	req = server.last(t)
	assert.Equal(t, "/lookups/instruments", req.Path)
	assert.Equal(t, []string{"200"}, req.Query["limit"])

	_, _, err = client.GetPortfolioLookups(context.Background(), "corr")
	require.NoError(t, err)
	assert.Equal(t, "/lookups/portfolios", server.last(t).Path)

	_, _, err = client.GetCurrencyLookups(context.Background(), "corr")
	require.NoError(t, err)
	assert.Equal(t, "/lookups/currencies", server.last(t).Path)
}

func TestPATWRRequest(t *testing.T) {
	server := newRecordingServer(t, 200, `{"resultsByPeriod":{}}`)
	client := NewPAClient(testConfig(server.URL))

	_, _, err := client.GetTWRSnapshot(context.Background(), TWRRequest{
		PortfolioID: "P1",
		AsOfDate:    "2026-02-24",
		Periods:     []string{"YTD"},
	}, "corr")
	require.NoError(t, err)

	req := server.last(t)
	assert.Equal(t, "/performance/twr/pas-input", req.Path)
	assert.Equal(t, "P1", req.Body["portfolioId"])
	assert.Equal(t, "2026-02-24", req.Body["asOfDate"])
	assert.Equal(t, []interface{}{"YTD"}, req.Body["periods"])

	_, _, err = client.GetTWRSnapshot(context.Background(), TWRRequest{PortfolioID: "P1"}, "corr")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDPMIdempotencyKey(t *testing.T) {
	server := newRecordingServer(t, 200, `{"proposal":{"proposal_id":"pp_1"}}`)
	client := NewDPMClient(testConfig(server.URL))
	body := httputil.MustPayload(map[string]interface{}{"portfolio_id": "P1"})

	_, _, err := client.CreateProposal(context.Background(), body, "idem-1", "corr")
	require.NoError(t, err)
	req := server.last(t)
	assert.Equal(t, "/rebalance/proposals", req.Path)
	assert.Equal(t, "idem-1", req.Header.Get("Idempotency-Key"))
	assert.Equal(t, "P1", req.Body["portfolio_id"])

	_, _, err = client.SimulateProposal(context.Background(), body, "", "corr")
	require.NoError(t, err)
	req = server.last(t)
	assert.Equal(t, "/rebalance/proposals/simulate", req.Path)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}$`), req.Header.Get("Idempotency-Key"))
}

func TestDPMReadRequests(t *testing.T) {
	server := newRecordingServer(t, 200, `{"items":[]}`)
	client := NewDPMClient(testConfig(server.URL))

	_, _, err := client.ListRuns(context.Background(), RunsQuery{PortfolioID: "P1", Limit: 1}, "corr")
	require.NoError(t, err)
	req := server.last(t)
	assert.Equal(t, "/rebalance/runs", req.Path)
	assert.Equal(t, []string{"P1"}, req.Query["portfolio_id"])
	assert.Equal(t, []string{"1"}, req.Query["limit"])

	_, _, err = client.ListProposals(context.Background(), ProposalFilter{State: "DRAFT", Limit: 20}, "corr")
	require.NoError(t, err)
	req = server.last(t)
	assert.Equal(t, []string{"DRAFT"}, req.Query["state"])
	assert.NotContains(t, req.Query, "portfolio_id")

	_, _, err = client.GetProposal(context.Background(), "pp_1", true, "corr")
	require.NoError(t, err)
	req = server.last(t)
	assert.Equal(t, "/rebalance/proposals/pp_1", req.Path)
	assert.Equal(t, []string{"true"}, req.Query["include_evidence"])
}

func TestRASSnapshotRequest(t *testing.T) {
	server := newRecordingServer(t, 404, `{"detail":"not found"}`)
	client := NewRASClient(testConfig(server.URL))

	status, payload, err := client.GetPortfolioSnapshot(context.Background(), "P1", "2026-02-24", "corr")
	require.NoError(t, err)
	assert.Equal(t, 404, status)
	assert.Equal(t, "not found", payload.Detail())

	req := server.last(t)
	assert.Equal(t, "/aggregations/portfolios/P1", req.Path)
	assert.Equal(t, []string{"2026-02-24"}, req.Query["asOfDate"])
	assert.Equal(t, []string{"true"}, req.Query["live"])
}

func TestBaseURLIsTrimmed(t *testing.T) {
	client := NewRASClient(Config{BaseURL: "http://ras:8300///"})
	assert.Equal(t, "http://ras:8300", client.BaseURL())
}
