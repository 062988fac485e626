package workbench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/fanout"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/upstream"
)

type answer struct {
	status  int
	payload string
	err     error
}

func (a answer) reply() (int, httputil.Payload, error) {
	if a.err != nil {
		return 0, httputil.Payload{}, a.err
	}
	return a.status, httputil.NewPayload([]byte(a.payload)), nil
}

type fakePAS struct {
	answer
	got upstream.CoreSnapshotRequest
}

func (f *fakePAS) GetCoreSnapshot(_ context.Context, req upstream.CoreSnapshotRequest, _ string) (int, httputil.Payload, error) {
	f.got = req
	return f.reply()
}

type fakePA struct {
	answer
	got upstream.TWRRequest
}

func (f *fakePA) GetTWRSnapshot(_ context.Context, req upstream.TWRRequest, _ string) (int, httputil.Payload, error) {
	f.got = req
	return f.reply()
}

type fakeDPM struct {
	answer
	got upstream.RunsQuery
}

func (f *fakeDPM) ListRuns(_ context.Context, q upstream.RunsQuery, _ string) (int, httputil.Payload, error) {
	f.got = q
	return f.reply()
}

type fanOutCounter struct {
	operation       string
	calls, failures int
}

func (c *fanOutCounter) ObserveFanOut(operation string, calls, failures int) {
	c.operation, c.calls, c.failures = operation, calls, failures
}

const coreSnapshot = `{
  "portfolio": {"portfolio_id": "DEMO_DPM_EUR_001", "cif_id": "CIF-7", "base_currency": "EUR", "booking_center": "LU"},
  "snapshot": {
    "as_of_date": "2026-02-24",
    "overview": {"total_market_value": 1000000, "total_cash": "250000"},
    "holdings": {"holdingsByAssetClass": {
      "Equity": [
        {"instrument_id": "SEC_B", "instrument_name": "Beta", "quantity": 10, "valuation": {"market_value_base": 500000}},
        {"instrument_id": "SEC_A", "quantity": "5", "market_value": 250000, "weight_pct": 30}
      ],
      "Cash": [{"security_id": "CASH_EUR", "quantity": 250000}],
      "Broken": "not-a-list"
    }}
  }
}`

func newTestService(pas *fakePAS, pa *fakePA, dpm *fakeDPM, rec *fanOutCounter) *Service {
	cfg := Config{
		PAS:             pas,
		PA:              pa,
		DPM:             dpm,
		ContractVersion: "v1",
		Clock:           func() time.Time { return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC) },
	}
	if rec != nil {
		cfg.Recorder = rec
	}
	return New(cfg)
}

func TestGetOverviewSuccess(t *testing.T) {
	pas := &fakePAS{answer: answer{status: http.StatusOK, payload: coreSnapshot}}
	pa := &fakePA{answer: answer{status: http.StatusOK, payload: `{"resultsByPeriod":{"YTD":{"net_cumulative_return":"4.25"}}}`}}
	dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{"items":[{"rebalance_run_id":"rr_1","status":"COMPLETED","created_at":"2026-02-20T10:00:00Z"}]}`}}
	rec := &fanOutCounter{}

	resp, err := newTestService(pas, pa, dpm, rec).GetOverview(context.Background(), " DEMO_DPM_EUR_001 ", "corr_1")
	require.NoError(t, err)

	assert.Equal(t, "DEMO_DPM_EUR_001", pas.got.PortfolioID)
	assert.Equal(t, "2026-03-01", pas.got.AsOfDate)
	assert.Equal(t, []string{"OVERVIEW", "PERFORMANCE", "HOLDINGS"}, pas.got.Sections)
	assert.Equal(t, "BFF", pas.got.ConsumerSystem)

	assert.Equal(t, "2026-02-24", pa.got.AsOfDate)
	assert.Equal(t, []string{"YTD"}, pa.got.Periods)
	assert.Equal(t, upstream.RunsQuery{PortfolioID: "DEMO_DPM_EUR_001", Limit: 1}, dpm.got)

	assert.Equal(t, "corr_1", resp.CorrelationID)
	assert.Equal(t, "v1", resp.ContractVersion)
	assert.Equal(t, "2026-02-24", resp.AsOfDate)
	assert.Equal(t, "EUR", resp.Portfolio.BaseCurrency)
	require.NotNil(t, resp.Portfolio.ClientID)
	assert.Equal(t, "CIF-7", *resp.Portfolio.ClientID)
	require.NotNil(t, resp.Portfolio.BookingCenterCode)
	assert.Equal(t, "LU", *resp.Portfolio.BookingCenterCode)

	assert.Equal(t, 1000000.0, resp.Overview.MarketValueBase)
	assert.InDelta(t, 0.25, resp.Overview.CashWeightPct, 1e-9)
	assert.Equal(t, 3, resp.Overview.PositionCount)

	require.NotNil(t, resp.PerformanceSnapshot)
	assert.Equal(t, "YTD", resp.PerformanceSnapshot.Period)
	require.NotNil(t, resp.PerformanceSnapshot.ReturnPct)
	assert.InDelta(t, 4.25, *resp.PerformanceSnapshot.ReturnPct, 1e-9)
	assert.Nil(t, resp.PerformanceSnapshot.BenchmarkReturnPct)

	require.NotNil(t, resp.RebalanceSnapshot)
	assert.Equal(t, "COMPLETED", resp.RebalanceSnapshot.Status)
	assert.Equal(t, "rr_1", *resp.RebalanceSnapshot.LastRebalanceRunID)
	assert.Equal(t, "2026-02-20T10:00:00Z", *resp.RebalanceSnapshot.LastRunAtUTC)

	assert.Empty(t, resp.Warnings)
	assert.NotNil(t, resp.Warnings)
	assert.Empty(t, resp.PartialFailures)
	assert.NotNil(t, resp.PartialFailures)

	assert.Equal(t, fanOutCounter{operation: "workbench_overview", calls: 2}, *rec)
}

func TestGetOverviewSecondarySourcesFail(t *testing.T) {
	pas := &fakePAS{answer: answer{status: http.StatusOK, payload: coreSnapshot}}
	pa := &fakePA{answer: answer{err: errors.New("connection refused")}}
	dpm := &fakeDPM{answer: answer{err: errors.New("dpm exploded")}}

	resp, err := newTestService(pas, pa, dpm, nil).GetOverview(context.Background(), "DEMO_DPM_EUR_001", "corr_2")
	require.NoError(t, err)

	assert.Equal(t, "DEMO_DPM_EUR_001", resp.Portfolio.PortfolioID)
	assert.Equal(t, 3, resp.Overview.PositionCount)
	assert.Nil(t, resp.PerformanceSnapshot)
	assert.Nil(t, resp.RebalanceSnapshot)
	assert.Equal(t, []string{WarningPerformanceUnavailable, WarningRebalanceUnavailable}, resp.Warnings)
	assert.Equal(t, []PartialFailure{
		{SourceService: "pa", ErrorCode: "UPSTREAM_EXCEPTION", Detail: "connection refused"},
		{SourceService: "dpm", ErrorCode: "UPSTREAM_EXCEPTION", Detail: "dpm exploded"},
	}, resp.PartialFailures)
}

func TestGetOverviewSecondaryHTTPErrors(t *testing.T) {
	pas := &fakePAS{answer: answer{status: http.StatusOK, payload: coreSnapshot}}
	pa := &fakePA{answer: answer{status: http.StatusServiceUnavailable, payload: `{"detail":"pa maintenance"}`}}
	dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{"items":[]}`}}

	resp, err := newTestService(pas, pa, dpm, nil).GetOverview(context.Background(), "P1", "corr")
	require.NoError(t, err)

	assert.Equal(t, []PartialFailure{{SourceService: "pa", ErrorCode: "HTTP_503", Detail: "pa maintenance"}}, resp.PartialFailures)
	assert.Equal(t, []string{WarningPerformanceUnavailable}, resp.Warnings)
	require.NotNil(t, resp.RebalanceSnapshot)
	assert.Equal(t, RebalanceNotAvailable, resp.RebalanceSnapshot.Status)
	assert.Nil(t, resp.RebalanceSnapshot.LastRebalanceRunID)
}

func TestGetOverviewCoreSnapshotFailure(t *testing.T) {
	pas := &fakePAS{answer: answer{status: http.StatusNotFound, payload: `{"detail":"portfolio not found"}`}}
	pa := &fakePA{answer: answer{status: http.StatusOK, payload: `{}`}}
	dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{}`}}

	_, err := newTestService(pas, pa, dpm, nil).GetOverview(context.Background(), "P404", "corr")
	require.Error(t, err)

	var upstreamErr *svcerrors.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusBadGateway, upstreamErr.HTTPStatus())
	assert.Equal(t, "PAS core snapshot unavailable: portfolio not found", upstreamErr.Detail)
	assert.Empty(t, pa.got.PortfolioID, "secondary sources are not called")
}

func TestGetOverviewInvalidCoreSnapshot(t *testing.T) {
	for _, payload := range []string{
		`{"portfolio":"P1","snapshot":{}}`,
		`{"portfolio":{},"snapshot":[1,2]}`,
		`{"portfolio":null}`,
	} {
		pas := &fakePAS{answer: answer{status: http.StatusOK, payload: payload}}
		_, err := newTestService(pas, &fakePA{}, &fakeDPM{}, nil).GetOverview(context.Background(), "P1", "corr")

		var upstreamErr *svcerrors.UpstreamError
		require.True(t, errors.As(err, &upstreamErr), payload)
		assert.Equal(t, http.StatusBadGateway, upstreamErr.HTTPStatus())
		assert.Equal(t, "Invalid PAS core snapshot payload structure.", upstreamErr.Detail)
	}
}

func TestGetOverviewRequiresPortfolioID(t *testing.T) {
	_, err := newTestService(&fakePAS{}, &fakePA{}, &fakeDPM{}, nil).GetOverview(context.Background(), "  ", "corr")
	assert.ErrorIs(t, err, svcerrors.ErrInvalidRequest)
}

func TestGetOverviewDefaults(t *testing.T) {
	pas := &fakePAS{answer: answer{status: http.StatusOK, payload: `{"snapshot":{"overview":{"total_market_value":0,"total_cash":10}}}`}}
	pa := &fakePA{answer: answer{status: http.StatusOK, payload: `{}`}}
	dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{"items":[{"status":null}]}`}}

	resp, err := newTestService(pas, pa, dpm, nil).GetOverview(context.Background(), "P1", "corr")
	require.NoError(t, err)

	assert.Equal(t, "P1", resp.Portfolio.PortfolioID)
	assert.Equal(t, "USD", resp.Portfolio.BaseCurrency)
	assert.Nil(t, resp.Portfolio.ClientID)
	assert.Equal(t, "2026-03-01", resp.AsOfDate)
	assert.Zero(t, resp.Overview.CashWeightPct)
	assert.Nil(t, resp.PerformanceSnapshot)
	assert.Empty(t, resp.Warnings)
	require.NotNil(t, resp.RebalanceSnapshot)
	assert.Equal(t, "UNKNOWN", resp.RebalanceSnapshot.Status)
}

func TestParsePerformance(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		want     *PerformanceSnapshot
		warnings []string
	}{
		{name: "missing results", payload: `{}`, warnings: []string{}},
		{name: "results not an object", payload: `{"resultsByPeriod":["YTD"]}`, warnings: []string{WarningPerformanceInvalid}},
		{name: "empty results", payload: `{"resultsByPeriod":{}}`, warnings: []string{}},
		{name: "first period fallback", payload: `{"resultsByPeriod":{"MTD":{"net_cumulative_return":1.5},"QTD":{}}}`, want: &PerformanceSnapshot{Period: "MTD", ReturnPct: floatPtr(1.5)}, warnings: []string{}},
		{name: "period not an object", payload: `{"resultsByPeriod":{"YTD":3}}`, warnings: []string{}},
		{name: "non numeric return", payload: `{"resultsByPeriod":{"YTD":{"net_cumulative_return":"n/a"}}}`, want: &PerformanceSnapshot{Period: "YTD"}, warnings: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := make([]string, 0)
			failures := make([]PartialFailure, 0)
			got := parsePerformance(outcomeOf("pa", tt.payload), &failures, &warnings)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.warnings, warnings)
			assert.Empty(t, failures)
		})
	}
}

func TestGetPortfolio360(t *testing.T) {
	pas := &fakePAS{answer: answer{status: http.StatusOK, payload: coreSnapshot}}
	pa := &fakePA{answer: answer{status: http.StatusOK, payload: `{}`}}
	dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{"items":"bad"}`}}

	resp, err := newTestService(pas, pa, dpm, nil).GetPortfolio360(context.Background(), "DEMO_DPM_EUR_001", "corr")
	require.NoError(t, err)

	assert.Equal(t, "DEMO_DPM_EUR_001", resp.Portfolio.PortfolioID)
	require.Len(t, resp.CurrentPositions, 3)

	byID := map[string]Position{}
	for _, p := range resp.CurrentPositions {
		byID[p.SecurityID] = p
	}
	assert.Equal(t, []string{"CASH_EUR", "SEC_A", "SEC_B"}, []string{
		resp.CurrentPositions[0].SecurityID,
		resp.CurrentPositions[1].SecurityID,
		resp.CurrentPositions[2].SecurityID,
	})

	a := byID["SEC_A"]
	assert.Equal(t, "SEC_A", a.InstrumentName)
	assert.Equal(t, 5.0, a.Quantity)
	assert.Equal(t, 250000.0, *a.MarketValueBase)
	assert.Equal(t, 30.0, *a.WeightPct)

	b := byID["SEC_B"]
	assert.Equal(t, "Beta", b.InstrumentName)
	assert.Equal(t, "Equity", b.AssetClass)
	assert.InDelta(t, 50.0, *b.WeightPct, 1e-9)

	cash := byID["CASH_EUR"]
	assert.Equal(t, "UNKNOWN", cash.InstrumentName)
	assert.Nil(t, cash.MarketValueBase)
	assert.Nil(t, cash.WeightPct)
}

func TestNumberValue(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{`12.5`, 12.5, true},
		{`" 7 "`, 7, true},
		{`"NaN"`, 0, false},
		{`"Infinity"`, 0, false},
		{`"-Inf"`, 0, false},
		{`1e400`, 0, false},
		{`-1e400`, 0, false},
		{`"1e400"`, 0, false},
		{`null`, 0, false},
		{`true`, 0, false},
	}
	for _, tt := range tests {
		got, ok := numberValue(gjson.Parse(tt.raw))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("numberValue(%s) = %v, %v, want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGetOverviewNonFiniteFigures(t *testing.T) {
	tests := []struct {
		name        string
		marketValue string
		cash        string
		wantMV      float64
	}{
		{"nan market value", `"NaN"`, `10`, 0},
		{"infinite market value", `"Infinity"`, `10`, 0},
		{"overflowing market value", `1e400`, `10`, 0},
		{"nan cash", `100`, `"NaN"`, 100},
		{"overflowing cash", `100`, `-1e400`, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := fmt.Sprintf(`{"snapshot":{"overview":{"total_market_value":%s,"total_cash":%s}}}`, tt.marketValue, tt.cash)
			pas := &fakePAS{answer: answer{status: http.StatusOK, payload: payload}}
			pa := &fakePA{answer: answer{status: http.StatusOK, payload: `{}`}}
			dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{"items":[]}`}}

			resp, err := newTestService(pas, pa, dpm, nil).GetOverview(context.Background(), "P1", "corr")
			if err != nil {
				t.Fatalf("GetOverview() error = %v", err)
			}
			if resp.Overview.MarketValueBase != tt.wantMV {
				t.Errorf("MarketValueBase = %v, want %v", resp.Overview.MarketValueBase, tt.wantMV)
			}
			if resp.Overview.CashWeightPct != 0 {
				t.Errorf("CashWeightPct = %v, want 0", resp.Overview.CashWeightPct)
			}
			if _, err := json.Marshal(resp); err != nil {
				t.Errorf("json.Marshal(resp) error = %v", err)
			}
		})
	}
}

func TestGetPortfolio360NonFinitePositions(t *testing.T) {
	payload := `{"snapshot":{
		"overview":{"total_market_value":100},
		"holdings":{"holdingsByAssetClass":{"Equity":[
			{"security_id":"SEC_NAN","quantity":"NaN","weight_pct":"Infinity","market_value_base":1e400},
			{"security_id":"SEC_BIG","quantity":1e400,"weight_pct":1e400,"market_value_base":40}
		]}}
	}}`
	pas := &fakePAS{answer: answer{status: http.StatusOK, payload: payload}}
	pa := &fakePA{answer: answer{status: http.StatusOK, payload: `{}`}}
	dpm := &fakeDPM{answer: answer{status: http.StatusOK, payload: `{"items":[]}`}}

	resp, err := newTestService(pas, pa, dpm, nil).GetPortfolio360(context.Background(), "P1", "corr")
	if err != nil {
		t.Fatalf("GetPortfolio360() error = %v", err)
	}
	if len(resp.CurrentPositions) != 2 {
		t.Fatalf("len(CurrentPositions) = %d, want 2", len(resp.CurrentPositions))
	}

	big, nan := resp.CurrentPositions[0], resp.CurrentPositions[1]
	if nan.Quantity != 0 || nan.MarketValueBase != nil || nan.WeightPct != nil {
		t.Errorf("SEC_NAN = %+v, want zero quantity and no value or weight", nan)
	}
	if big.Quantity != 0 {
		t.Errorf("SEC_BIG quantity = %v, want 0", big.Quantity)
	}
	if big.WeightPct == nil || *big.WeightPct != 40 {
		t.Errorf("SEC_BIG weight = %v, want 40 derived from market value", big.WeightPct)
	}
	if _, err := json.Marshal(resp); err != nil {
		t.Errorf("json.Marshal(resp) error = %v", err)
	}
}

func outcomeOf(name, payload string) fanout.Outcome {
	return fanout.Outcome{Name: name, Status: http.StatusOK, Payload: httputil.NewPayload([]byte(payload))}
}

func floatPtr(v float64) *float64 { return &v }
