// Package capabilities aggregates the capability documents of every platform
// service into one envelope with derived navigation, workflow and health
// views for the advisor UI.
package capabilities

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/fanout"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// Fetcher loads one source's capability document.
type Fetcher interface {
	GetCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error)
}

// PolicyFetcher loads the effective integration policy.
type PolicyFetcher interface {
	GetEffectivePolicy(ctx context.Context, consumerSystem, tenantID, correlationID string) (int, httputil.Payload, error)
}

// Source is one registry entry. A nil Fetcher marks a known source that is
// switched off: it is never called and reports as unknown.
type Source struct {
	Name    string
	Fetcher Fetcher
}

// Config configures a Service.
type Config struct {
	Sources         []Source
	Policy          PolicyFetcher
	Rules           Rules
	ContractVersion string
	Logger          *logging.Logger
	Recorder        fanout.Recorder
}

// Service builds capability envelopes.
type Service struct {
	sources         []Source
	known           []string
	policy          PolicyFetcher
	rules           Rules
	contractVersion string
	logger          *logging.Logger
	recorder        fanout.Recorder
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	known := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		known = append(known, src.Name)
	}
	return &Service{
		sources:         cfg.Sources,
		known:           known,
		policy:          cfg.Policy,
		rules:           cfg.Rules,
		contractVersion: cfg.ContractVersion,
		logger:          logger,
		recorder:        cfg.Recorder,
	}
}

// GetPlatformCapabilities queries every enabled source and the policy lookup
// concurrently and assembles the envelope. Upstream failures never fail the
// call; they are reported in Errors with PartialFailure set.
func (s *Service) GetPlatformCapabilities(ctx context.Context, consumerSystem, tenantID, correlationID string) (*Response, error) {
	if strings.TrimSpace(consumerSystem) == "" || strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("capabilities: consumer system and tenant id are required: %w", svcerrors.ErrInvalidRequest)
	}

	calls := make([]fanout.Call, 0, len(s.sources)+1)
	for _, src := range s.sources {
		if src.Fetcher == nil {
			continue
		}
		fetcher := src.Fetcher
		calls = append(calls, fanout.Call{
			Name: src.Name,
			Fetch: func(ctx context.Context) (int, httputil.Payload, error) {
				return fetcher.GetCapabilities(ctx, consumerSystem, tenantID, correlationID)
			},
		})
	}
	if s.policy != nil {
		calls = append(calls, fanout.Call{
			Name: PolicySourceName,
			Fetch: func(ctx context.Context) (int, httputil.Payload, error) {
				return s.policy.GetEffectivePolicy(ctx, consumerSystem, tenantID, correlationID)
			},
		})
	}

	outcomes := fanout.Run(ctx, calls)

	var policy *PolicyLookup
	capabilityOutcomes := make([]fanout.Outcome, 0, len(outcomes))
	var policyError *fanout.SourceError
	for _, o := range outcomes {
		if o.Name != PolicySourceName {
			capabilityOutcomes = append(capabilityOutcomes, o)
			continue
		}
		policy = &PolicyLookup{Payload: o.Payload, Failed: o.Failed()}
		if o.Failed() {
			e := o.AsError()
			policyError = &e
		}
	}

	result := fanout.Collect(capabilityOutcomes)
	errs := result.Errors
	if policyError != nil {
		errs = append(errs, *policyError)
	}

	if s.recorder != nil {
		s.recorder.ObserveFanOut("capabilities", len(calls), len(errs))
	}
	if len(errs) > 0 {
		failed := make([]string, 0, len(errs))
		for _, e := range errs {
			failed = append(failed, e.Service)
		}
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"tenant_id":       tenantID,
			"consumer_system": consumerSystem,
			"failed_sources":  failed,
		}).Warn("capabilities aggregation partially failed")
	}

	normalized := Normalize(Input{
		Known:   s.known,
		Sources: result.Sources,
		Errors:  errs,
		Policy:  policy,
	}, s.rules)

	return &Response{Data: Data{
		ConsumerSystem:  consumerSystem,
		TenantID:        tenantID,
		ContractVersion: s.contractVersion,
		CorrelationID:   correlationID,
		Sources:         result.Sources,
		PartialFailure:  len(errs) > 0,
		Errors:          errs,
		Normalized:      normalized,
	}}, nil
}
