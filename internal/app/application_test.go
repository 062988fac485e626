package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgajbi/advisor-experience-api/internal/config"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// newUpstream serves the fixed answers a platform service gives the gateway.
func newUpstream(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(urls map[string]string) *config.Config {
	services := config.DefaultServicesConfig()
	for name, settings := range services.Upstreams {
		if url, ok := urls[name]; ok {
			settings.BaseURL = url
		} else {
			settings.Enabled = false
		}
	}
	return &config.Config{
		ServiceName:        "advisor-experience-api",
		ContractVersion:    "v1",
		ManageSplitEnabled: false,
		Retry:              config.RetrySettings{Timeout: time.Second},
		RateLimit:          config.RateLimitSettings{RequestsPerSecond: 100, Burst: 100, CleanupSchedule: "@every 5m"},
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		Services:           services,
	}
}

func TestApplicationServesCapabilities(t *testing.T) {
	pas := newUpstream(t, map[string]string{
		"GET /integration/capabilities": `{"sourceService":"pas","policyVersion":"pas.v3","features":[{"key":"pas.integration.core_snapshot","enabled":true}],"workflows":[]}`,
		"GET /integration/policy/effective": `{"policyProvenance":{"policyVersion":"tenant-default-v1","policySource":"default","matchedRuleId":"default","strictMode":false},
			"allowedSections":["OVERVIEW"],"warnings":[]}`,
	})
	cfg := testConfig(map[string]string{config.UpstreamPAS: pas.URL})

	application, err := New(cfg, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/platform/capabilities", nil)
	req.Header.Set(logging.CorrelationHeader, "corr_app")
	rr := httptest.NewRecorder()
	application.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "corr_app", rr.Header().Get(logging.CorrelationHeader))

	var body struct {
		Data struct {
			CorrelationID  string `json:"correlationId"`
			PartialFailure bool   `json:"partialFailure"`
			Normalized     struct {
				ModuleHealth map[string]string `json:"moduleHealth"`
			} `json:"normalized"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "corr_app", body.Data.CorrelationID)
	assert.False(t, body.Data.PartialFailure)
	assert.Equal(t, "available", body.Data.Normalized.ModuleHealth["pas"])
	assert.Equal(t, "unknown", body.Data.Normalized.ModuleHealth["dpm"])
}

func TestApplicationMapsUpstreamFailures(t *testing.T) {
	ras := newUpstream(t, nil)
	cfg := testConfig(map[string]string{config.UpstreamRAS: ras.URL})

	application, err := New(cfg, logging.NewNop())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	application.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/reports/P1/snapshot?asOfDate=2026-02-24", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(logging.CorrelationHeader))
}

func TestApplicationReadinessDrains(t *testing.T) {
	application, err := New(testConfig(nil), logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	rr := httptest.NewRecorder()
	application.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, application.Stop(context.Background()))
	assert.True(t, application.Draining())

	rr = httptest.NewRecorder()
	application.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApplicationRejectsBadRules(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Services.Navigation = []config.NavigationRuleSettings{{Flag: "x", Require: []string{"no-colon"}}}

	_, err := New(cfg, logging.NewNop())
	assert.Error(t, err)
}
