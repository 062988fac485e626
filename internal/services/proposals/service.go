// Package proposals passes proposal operations through to the decisioning
// service and wraps the answers in the gateway envelope.
package proposals

import (
	"context"
	"net/http"
	"strings"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
	"github.com/sgajbi/advisor-experience-api/internal/upstream"
)

const (
	// DefaultListLimit is used when a list request carries no limit.
	DefaultListLimit = 20
	// MaxListLimit caps a list request.
	MaxListLimit = 100
)

// Decisioning is the part of the decisioning service the gateway uses.
type Decisioning interface {
	SimulateProposal(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (int, httputil.Payload, error)
	CreateProposal(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (int, httputil.Payload, error)
	ListProposals(ctx context.Context, f upstream.ProposalFilter, correlationID string) (int, httputil.Payload, error)
	GetProposal(ctx context.Context, proposalID string, includeEvidence bool, correlationID string) (int, httputil.Payload, error)
}

// Envelope wraps an upstream answer.
type Envelope struct {
	CorrelationID   string           `json:"correlation_id"`
	ContractVersion string           `json:"contract_version"`
	Data            httputil.Payload `json:"data"`
}

// Service forwards proposal operations.
type Service struct {
	dpm             Decisioning
	contractVersion string
	logger          *logging.Logger
}

// New creates a Service.
func New(dpm Decisioning, contractVersion string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{dpm: dpm, contractVersion: contractVersion, logger: logger}
}

// Simulate runs a proposal simulation.
func (s *Service) Simulate(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (*Envelope, error) {
	return s.envelope(ctx, correlationID)(s.dpm.SimulateProposal(ctx, body, idempotencyKey, correlationID))
}

// Create persists a proposal.
func (s *Service) Create(ctx context.Context, body httputil.Payload, idempotencyKey, correlationID string) (*Envelope, error) {
	return s.envelope(ctx, correlationID)(s.dpm.CreateProposal(ctx, body, idempotencyKey, correlationID))
}

// List returns proposals matching the filter. A zero limit means
// DefaultListLimit; anything outside 1..MaxListLimit is rejected.
func (s *Service) List(ctx context.Context, filter upstream.ProposalFilter, correlationID string) (*Envelope, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit < 1 || filter.Limit > MaxListLimit {
		return nil, svcerrors.InvalidRequest("limit must be between 1 and 100")
	}
	return s.envelope(ctx, correlationID)(s.dpm.ListProposals(ctx, filter, correlationID))
}

// Get returns one proposal.
func (s *Service) Get(ctx context.Context, proposalID string, includeEvidence bool, correlationID string) (*Envelope, error) {
	if strings.TrimSpace(proposalID) == "" {
		return nil, svcerrors.InvalidRequest("proposal id is required")
	}
	return s.envelope(ctx, correlationID)(s.dpm.GetProposal(ctx, proposalID, includeEvidence, correlationID))
}

// envelope turns an adapter answer into an Envelope. Upstream error
// statuses are passed through to the caller unchanged.
func (s *Service) envelope(ctx context.Context, correlationID string) func(int, httputil.Payload, error) (*Envelope, error) {
	return func(status int, payload httputil.Payload, err error) (*Envelope, error) {
		if err != nil {
			return nil, svcerrors.InvalidRequest(err.Error())
		}
		if status >= http.StatusBadRequest {
			s.logger.WithContext(ctx).WithField("upstream_status", status).Warn("decisioning service rejected proposal call")
			return nil, svcerrors.UpstreamPassthrough("dpm", status, payload.Detail())
		}
		return &Envelope{
			CorrelationID:   correlationID,
			ContractVersion: s.contractVersion,
			Data:            payload,
		}, nil
	}
}
