// Package httpapi exposes the gateway operations over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sgajbi/advisor-experience-api/internal/app/metrics"
	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
	"github.com/sgajbi/advisor-experience-api/internal/services/capabilities"
	"github.com/sgajbi/advisor-experience-api/internal/services/lookups"
	"github.com/sgajbi/advisor-experience-api/internal/services/proposals"
	"github.com/sgajbi/advisor-experience-api/internal/services/reporting"
	"github.com/sgajbi/advisor-experience-api/internal/services/workbench"
	"github.com/sgajbi/advisor-experience-api/internal/upstream"
)

const (
	defaultConsumerSystem = "BFF"
	defaultTenantID       = "default"
)

// CapabilitiesService aggregates platform capabilities.
type CapabilitiesService interface {
	GetPlatformCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (*capabilities.Response, error)
}

// WorkbenchService builds workbench views.
type WorkbenchService interface {
	GetOverview(ctx context.Context, portfolioID, correlationID string) (*workbench.OverviewResponse, error)
	GetPortfolio360(ctx context.Context, portfolioID, correlationID string) (*workbench.Portfolio360Response, error)
}

// ProposalService forwards proposal operations.
type ProposalService interface {
	Simulate(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (*proposals.Envelope, error)
	Create(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (*proposals.Envelope, error)
	List(ctx context.Context, filter upstream.ProposalFilter, correlationID string) (*proposals.Envelope, error)
	Get(ctx context.Context, proposalID string, includeEvidence bool, correlationID string) (*proposals.Envelope, error)
}

// ReportingService serves reporting snapshots.
type ReportingService interface {
	GetSnapshot(ctx context.Context, portfolioID, asOfDate, correlationID string) (*reporting.SnapshotResponse, error)
}

// LookupService serves selector catalogs.
type LookupService interface {
	Portfolios(ctx context.Context, correlationID string) (*lookups.Response, error)
	Instruments(ctx context.Context, limit int, correlationID string) (*lookups.Response, error)
	Currencies(ctx context.Context, correlationID string) (*lookups.Response, error)
}

// Config wires the handler to the services.
type Config struct {
	Capabilities CapabilitiesService
	Workbench    WorkbenchService
	Proposals    ProposalService
	Reporting    ReportingService
	Lookups      LookupService
	// Draining reports whether the process is shutting down; readiness then
	// answers 503.
	Draining func() bool
	Logger   *logging.Logger
}

// handler bundles HTTP endpoints for the gateway services.
type handler struct {
	cfg    Config
	logger *logging.Logger
}

// NewHandler returns a router exposing the gateway API, the health probes
// and /metrics.
func NewHandler(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Draining == nil {
		cfg.Draining = func() bool { return false }
	}
	h := &handler{cfg: cfg, logger: logger}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteProblem(w, req, http.StatusNotFound, string(svcerrors.CodeNotFound), "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteProblem(w, req, http.StatusMethodNotAllowed, string(svcerrors.CodeInvalidRequest), "method not allowed")
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/health/live", h.live).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.ready).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/platform/capabilities", h.platformCapabilities).Methods(http.MethodGet)

	api.HandleFunc("/workbench/{portfolio_id}/overview", h.workbenchOverview).Methods(http.MethodGet)
	api.HandleFunc("/workbench/{portfolio_id}/portfolio-360", h.portfolio360).Methods(http.MethodGet)

	api.HandleFunc("/proposals/simulate", h.simulateProposal).Methods(http.MethodPost)
	api.HandleFunc("/proposals", h.createProposal).Methods(http.MethodPost)
	api.HandleFunc("/proposals", h.listProposals).Methods(http.MethodGet)
	api.HandleFunc("/proposals/{proposal_id}", h.getProposal).Methods(http.MethodGet)

	api.HandleFunc("/reports/{portfolio_id}/snapshot", h.reportingSnapshot).Methods(http.MethodGet)

	api.HandleFunc("/lookups/portfolios", h.portfolioLookups).Methods(http.MethodGet)
	api.HandleFunc("/lookups/instruments", h.instrumentLookups).Methods(http.MethodGet)
	api.HandleFunc("/lookups/currencies", h.currencyLookups).Methods(http.MethodGet)

	return r
}

// =============================================================================
// Probes
// =============================================================================

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) live(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

func (h *handler) ready(w http.ResponseWriter, _ *http.Request) {
	if h.cfg.Draining() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// =============================================================================
// Platform and workbench
// =============================================================================

func (h *handler) platformCapabilities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	consumerSystem := queryOr(query.Get("consumerSystem"), defaultConsumerSystem)
	tenantID := queryOr(query.Get("tenantId"), defaultTenantID)

	resp, err := h.cfg.Capabilities.GetPlatformCapabilities(r.Context(), consumerSystem, tenantID, correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) workbenchOverview(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cfg.Workbench.GetOverview(r.Context(), mux.Vars(r)["portfolio_id"], correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) portfolio360(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cfg.Workbench.GetPortfolio360(r.Context(), mux.Vars(r)["portfolio_id"], correlationID(r))
	h.respond(w, r, resp, err)
}

// =============================================================================
// Proposals
// =============================================================================

type proposalRequest struct {
	Body *httputil.Payload `json:"body"`
}

func (h *handler) decodeProposal(r *http.Request) (httputil.Payload, error) {
	var req proposalRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		return httputil.Payload{}, svcerrors.InvalidRequest(err.Error())
	}
	if req.Body == nil {
		return httputil.Payload{}, svcerrors.InvalidRequest("body is required")
	}
	return *req.Body, nil
}

func (h *handler) simulateProposal(w http.ResponseWriter, r *http.Request) {
	body, err := h.decodeProposal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.cfg.Proposals.Simulate(r.Context(), body, r.Header.Get(httputil.IdempotencyHeader), correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) createProposal(w http.ResponseWriter, r *http.Request) {
	body, err := h.decodeProposal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.cfg.Proposals.Create(r.Context(), body, r.Header.Get(httputil.IdempotencyHeader), correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) listProposals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"), "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := upstream.ProposalFilter{
		PortfolioID: query.Get("portfolio_id"),
		State:       query.Get("state"),
		CreatedBy:   query.Get("created_by"),
		CreatedFrom: query.Get("created_from"),
		CreatedTo:   query.Get("created_to"),
		Limit:       limit,
		Cursor:      query.Get("cursor"),
	}
	resp, err := h.cfg.Proposals.List(r.Context(), filter, correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) getProposal(w http.ResponseWriter, r *http.Request) {
	includeEvidence := false
	if raw := r.URL.Query().Get("include_evidence"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, svcerrors.InvalidRequest("include_evidence must be a boolean"))
			return
		}
		includeEvidence = parsed
	}
	resp, err := h.cfg.Proposals.Get(r.Context(), mux.Vars(r)["proposal_id"], includeEvidence, correlationID(r))
	h.respond(w, r, resp, err)
}

// =============================================================================
// Reporting and lookups
// =============================================================================

func (h *handler) reportingSnapshot(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cfg.Reporting.GetSnapshot(r.Context(), mux.Vars(r)["portfolio_id"], r.URL.Query().Get("asOfDate"), correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) portfolioLookups(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cfg.Lookups.Portfolios(r.Context(), correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) instrumentLookups(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.cfg.Lookups.Instruments(r.Context(), limit, correlationID(r))
	h.respond(w, r, resp, err)
}

func (h *handler) currencyLookups(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cfg.Lookups.Currencies(r.Context(), correlationID(r))
	h.respond(w, r, resp, err)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *handler) respond(w http.ResponseWriter, r *http.Request, data interface{}, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, data)
}

// writeError renders err as problem+json. Internal failures are logged and
// answered with a generic detail.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := svcerrors.GetServiceError(err)
	detail := serviceErr.Message
	if serviceErr.Code == svcerrors.CodeInternal {
		h.logger.WithContext(r.Context()).WithError(err).Error("request failed")
		detail = "An unexpected error occurred."
	}
	httputil.WriteProblem(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), detail)
}

func correlationID(r *http.Request) string {
	if id := logging.CorrelationID(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(logging.CorrelationHeader))
}

func queryOr(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// intParam parses an optional integer query parameter; absent means 0.
func intParam(raw, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, svcerrors.InvalidRequest(name + " must be an integer")
	}
	return v, nil
}
