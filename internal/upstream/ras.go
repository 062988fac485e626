package upstream

import (
	"context"
	"net/url"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// RASClient talks to the reporting aggregation service.
type RASClient struct {
	Client
}

// NewRASClient creates a reporting aggregation adapter.
func NewRASClient(cfg Config) *RASClient {
	return &RASClient{Client: newClient(cfg)}
}

// GetCapabilities fetches the service's capability document.
func (c *RASClient) GetCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error) {
	return c.capabilities(ctx, consumerSystem, tenantID, correlationID)
}

// GetPortfolioSnapshot fetches a live portfolio aggregation for a date.
func (c *RASClient) GetPortfolioSnapshot(ctx context.Context, portfolioID, asOfDate, correlationID string) (int, httputil.Payload, error) {
	if err := requireID("portfolio id", portfolioID); err != nil {
		return 0, httputil.Payload{}, err
	}
	if err := requireID("as of date", asOfDate); err != nil {
		return 0, httputil.Payload{}, err
	}
	query := url.Values{
		"asOfDate": []string{asOfDate},
		"live":     []string{"true"},
	}
	status, payload := c.get(ctx, "/aggregations/portfolios/"+url.PathEscape(portfolioID), query, correlationID)
	return status, payload, nil
}
