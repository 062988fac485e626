package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// Core snapshot sections.
const (
	SectionOverview    = "OVERVIEW"
	SectionPerformance = "PERFORMANCE"
	SectionHoldings    = "HOLDINGS"
)

// PASClient talks to the portfolio data platform.
type PASClient struct {
	Client
}

// NewPASClient creates a portfolio data platform adapter.
func NewPASClient(cfg Config) *PASClient {
	return &PASClient{Client: newClient(cfg)}
}

// GetCapabilities fetches the platform's capability document.
func (c *PASClient) GetCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error) {
	return c.capabilities(ctx, consumerSystem, tenantID, correlationID)
}

// GetEffectivePolicy fetches the effective integration policy for a
// consumer and tenant.
func (c *PASClient) GetEffectivePolicy(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error) {
	if err := requireID("consumer system", consumerSystem); err != nil {
		return 0, httputil.Payload{}, err
	}
	if err := requireID("tenant id", tenantID); err != nil {
		return 0, httputil.Payload{}, err
	}
	query := url.Values{
		"consumerSystem": []string{consumerSystem},
		"tenantId":       []string{tenantID},
	}
	status, payload := c.get(ctx, "/integration/policy/effective", query, correlationID)
	return status, payload, nil
}

// CoreSnapshotRequest selects the sections of a portfolio core snapshot.
// An empty AsOfDate lets the platform pick its latest business date.
type CoreSnapshotRequest struct {
	PortfolioID    string
	AsOfDate       string
	Sections       []string
	ConsumerSystem string
}

type coreSnapshotBody struct {
	AsOfDate        *string  `json:"asOfDate"`
	IncludeSections []string `json:"includeSections"`
	ConsumerSystem  string   `json:"consumerSystem"`
}

// GetCoreSnapshot fetches POST /integration/portfolios/{id}/core-snapshot.
func (c *PASClient) GetCoreSnapshot(ctx context.Context, req CoreSnapshotRequest, correlationID string) (int, httputil.Payload, error) {
	if err := requireID("portfolio id", req.PortfolioID); err != nil {
		return 0, httputil.Payload{}, err
	}
	body := coreSnapshotBody{
		IncludeSections: req.Sections,
		ConsumerSystem:  req.ConsumerSystem,
	}
	if body.IncludeSections == nil {
		body.IncludeSections = []string{}
	}
	if body.ConsumerSystem == "" {
		body.ConsumerSystem = "BFF"
	}
	if req.AsOfDate != "" {
		asOf := req.AsOfDate
		body.AsOfDate = &asOf
	}
	path := "/integration/portfolios/" + url.PathEscape(req.PortfolioID) + "/core-snapshot"
	status, payload := c.post(ctx, path, body, correlationID, "")
	return status, payload, nil
}

// GetPortfolioLookups fetches GET /lookups/portfolios.
func (c *PASClient) GetPortfolioLookups(ctx context.Context, correlationID string) (int, httputil.Payload, error) {
	status, payload := c.get(ctx, "/lookups/portfolios", nil, correlationID)
	return status, payload, nil
}

// GetInstrumentLookups fetches GET /lookups/instruments.
func (c *PASClient) GetInstrumentLookups(ctx context.Context, limit int, correlationID string) (int, httputil.Payload, error) {
	if limit <= 0 {
		return 0, httputil.Payload{}, fmt.Errorf("instrument lookups: limit must be positive: %w", ErrInvalidArgument)
	}
	query := url.Values{"limit": []string{strconv.Itoa(limit)}}
	status, payload := c.get(ctx, "/lookups/instruments", query, correlationID)
	return status, payload, nil
}

// GetCurrencyLookups fetches GET /lookups/currencies.
func (c *PASClient) GetCurrencyLookups(ctx context.Context, correlationID string) (int, httputil.Payload, error) {
	status, payload := c.get(ctx, "/lookups/currencies", nil, correlationID)
	return status, payload, nil
}
