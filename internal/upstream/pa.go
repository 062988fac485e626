package upstream

import (
	"context"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// PAClient talks to the performance analytics service.
type PAClient struct {
	Client
}

// NewPAClient creates a performance analytics adapter.
func NewPAClient(cfg Config) *PAClient {
	return &PAClient{Client: newClient(cfg)}
}

// GetCapabilities fetches the service's capability document.
func (c *PAClient) GetCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error) {
	return c.capabilities(ctx, consumerSystem, tenantID, correlationID)
}

// TWRRequest asks for time-weighted returns computed from platform data.
type TWRRequest struct {
	PortfolioID    string
	AsOfDate       string
	Periods        []string
	ConsumerSystem string
}

type twrBody struct {
	PortfolioID    string   `json:"portfolioId"`
	AsOfDate       string   `json:"asOfDate"`
	Periods        []string `json:"periods"`
	ConsumerSystem string   `json:"consumerSystem"`
}

// GetTWRSnapshot fetches POST /performance/twr/pas-input.
func (c *PAClient) GetTWRSnapshot(ctx context.Context, req TWRRequest, correlationID string) (int, httputil.Payload, error) {
	if err := requireID("portfolio id", req.PortfolioID); err != nil {
		return 0, httputil.Payload{}, err
	}
	if err := requireID("as of date", req.AsOfDate); err != nil {
		return 0, httputil.Payload{}, err
	}
	body := twrBody{
		PortfolioID:    req.PortfolioID,
		AsOfDate:       req.AsOfDate,
		Periods:        req.Periods,
		ConsumerSystem: req.ConsumerSystem,
	}
	if body.Periods == nil {
		body.Periods = []string{}
	}
	if body.ConsumerSystem == "" {
		body.ConsumerSystem = "BFF"
	}
	status, payload := c.post(ctx, "/performance/twr/pas-input", body, correlationID, "")
	return status, payload, nil
}
