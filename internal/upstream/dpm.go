package upstream

import (
	"context"
	"net/url"
	"strconv"

	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

// DPMClient talks to the decisioning service, or to the management service
// when runs and proposals are split out of it.
type DPMClient struct {
	Client
}

// NewDPMClient creates a decisioning adapter.
func NewDPMClient(cfg Config) *DPMClient {
	return &DPMClient{Client: newClient(cfg)}
}

// GetCapabilities fetches the service's capability document.
func (c *DPMClient) GetCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error) {
	return c.capabilities(ctx, consumerSystem, tenantID, correlationID)
}

// RunsQuery filters GET /rebalance/runs.
type RunsQuery struct {
	PortfolioID string
	Limit       int
}

// ListRuns fetches rebalance runs, newest first.
func (c *DPMClient) ListRuns(ctx context.Context, q RunsQuery, correlationID string) (int, httputil.Payload, error) {
	query := url.Values{}
	if q.PortfolioID != "" {
		query.Set("portfolio_id", q.PortfolioID)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	status, payload := c.get(ctx, "/rebalance/runs", query, correlationID)
	return status, payload, nil
}

// SimulateProposal posts a raw proposal body to /rebalance/proposals/simulate.
// An empty idempotency key is replaced with a generated one.
func (c *DPMClient) SimulateProposal(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (int, httputil.Payload, error) {
	status, payload := c.post(ctx, "/rebalance/proposals/simulate", body, correlationID, resolveIdempotencyKey(idempotencyKey))
	return status, payload, nil
}

// CreateProposal posts a raw proposal body to /rebalance/proposals.
// An empty idempotency key is replaced with a generated one.
func (c *DPMClient) CreateProposal(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (int, httputil.Payload, error) {
	status, payload := c.post(ctx, "/rebalance/proposals", body, correlationID, resolveIdempotencyKey(idempotencyKey))
	return status, payload, nil
}

// ProposalFilter filters GET /rebalance/proposals. Empty fields are omitted.
type ProposalFilter struct {
	PortfolioID string
	State       string
	CreatedBy   string
	CreatedFrom string
	CreatedTo   string
	Limit       int
	Cursor      string
}

// ListProposals fetches a page of proposals.
func (c *DPMClient) ListProposals(ctx context.Context, f ProposalFilter, correlationID string) (int, httputil.Payload, error) {
	query := url.Values{}
	for key, value := range map[string]string{
		"portfolio_id": f.PortfolioID,
		"state":        f.State,
		"created_by":   f.CreatedBy,
		"created_from": f.CreatedFrom,
		"created_to":   f.CreatedTo,
		"cursor":       f.Cursor,
	} {
		if value != "" {
			query.Set(key, value)
		}
	}
	if f.Limit > 0 {
		query.Set("limit", strconv.Itoa(f.Limit))
	}
	status, payload := c.get(ctx, "/rebalance/proposals", query, correlationID)
	return status, payload, nil
}

// GetProposal fetches one proposal, optionally with its evidence bundle.
func (c *DPMClient) GetProposal(ctx context.Context, proposalID string, includeEvidence bool, correlationID string) (int, httputil.Payload, error) {
	if err := requireID("proposal id", proposalID); err != nil {
		return 0, httputil.Payload{}, err
	}
	query := url.Values{"include_evidence": []string{strconv.FormatBool(includeEvidence)}}
	status, payload := c.get(ctx, "/rebalance/proposals/"+url.PathEscape(proposalID), query, correlationID)
	return status, payload, nil
}
