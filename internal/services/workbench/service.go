// Package workbench composes the portfolio overview shown on the advisor
// workbench from the core snapshot, the performance snapshot and the latest
// rebalance run.
package workbench

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/fanout"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
	"github.com/sgajbi/advisor-experience-api/internal/upstream"
)

const (
	consumerSystem = "BFF"
	dateLayout     = "2006-01-02"
)

// CoreSnapshotFetcher loads the core portfolio snapshot.
type CoreSnapshotFetcher interface {
	GetCoreSnapshot(ctx context.Context, req upstream.CoreSnapshotRequest, correlationID string) (int, httputil.Payload, error)
}

// PerformanceFetcher loads time-weighted returns.
type PerformanceFetcher interface {
	GetTWRSnapshot(ctx context.Context, req upstream.TWRRequest, correlationID string) (int, httputil.Payload, error)
}

// RebalanceFetcher lists rebalance runs.
type RebalanceFetcher interface {
	ListRuns(ctx context.Context, q upstream.RunsQuery, correlationID string) (int, httputil.Payload, error)
}

// Config configures a Service.
type Config struct {
	PAS             CoreSnapshotFetcher
	PA              PerformanceFetcher
	DPM             RebalanceFetcher
	ContractVersion string
	Logger          *logging.Logger
	Recorder        fanout.Recorder
	// Clock defaults to time.Now and decides the default as-of date.
	Clock func() time.Time
}

// Service builds workbench views.
type Service struct {
	pas             CoreSnapshotFetcher
	pa              PerformanceFetcher
	dpm             RebalanceFetcher
	contractVersion string
	logger          *logging.Logger
	recorder        fanout.Recorder
	clock           func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		pas:             cfg.PAS,
		pa:              cfg.PA,
		dpm:             cfg.DPM,
		contractVersion: cfg.ContractVersion,
		logger:          logger,
		recorder:        cfg.Recorder,
		clock:           clock,
	}
}

// GetOverview returns the portfolio overview. The core snapshot is
// mandatory; performance and rebalance data degrade into warnings and
// partial failures.
func (s *Service) GetOverview(ctx context.Context, portfolioID, correlationID string) (*OverviewResponse, error) {
	resp, _, err := s.overview(ctx, portfolioID, correlationID)
	return resp, err
}

// GetPortfolio360 returns the overview together with the current positions.
func (s *Service) GetPortfolio360(ctx context.Context, portfolioID, correlationID string) (*Portfolio360Response, error) {
	resp, core, err := s.overview(ctx, portfolioID, correlationID)
	if err != nil {
		return nil, err
	}
	return &Portfolio360Response{
		OverviewResponse: *resp,
		CurrentPositions: parsePositions(core),
	}, nil
}

func (s *Service) overview(ctx context.Context, portfolioID, correlationID string) (*OverviewResponse, httputil.Payload, error) {
	portfolioID = strings.TrimSpace(portfolioID)
	if portfolioID == "" {
		return nil, httputil.Payload{}, svcerrors.InvalidRequest("portfolio id is required")
	}

	today := s.clock().UTC().Format(dateLayout)
	status, core, err := s.pas.GetCoreSnapshot(ctx, upstream.CoreSnapshotRequest{
		PortfolioID:    portfolioID,
		AsOfDate:       today,
		Sections:       []string{upstream.SectionOverview, upstream.SectionPerformance, upstream.SectionHoldings},
		ConsumerSystem: consumerSystem,
	}, correlationID)
	if err != nil {
		return nil, httputil.Payload{}, svcerrors.Upstream("pas", http.StatusBadGateway, "PAS core snapshot unavailable: "+err.Error())
	}
	if status >= http.StatusBadRequest {
		return nil, httputil.Payload{}, svcerrors.Upstream("pas", status, "PAS core snapshot unavailable: "+core.Detail())
	}

	portfolio, summary, asOf, err := parseCoreSnapshot(core, portfolioID, today)
	if err != nil {
		return nil, httputil.Payload{}, svcerrors.Upstream("pas", status, "Invalid PAS core snapshot payload structure.")
	}

	outcomes := fanout.Run(ctx, []fanout.Call{
		{
			Name: "pa",
			Fetch: func(ctx context.Context) (int, httputil.Payload, error) {
				return s.pa.GetTWRSnapshot(ctx, upstream.TWRRequest{
					PortfolioID:    portfolio.PortfolioID,
					AsOfDate:       asOf,
					Periods:        []string{"YTD"},
					ConsumerSystem: consumerSystem,
				}, correlationID)
			},
		},
		{
			Name: "dpm",
			Fetch: func(ctx context.Context) (int, httputil.Payload, error) {
				return s.dpm.ListRuns(ctx, upstream.RunsQuery{PortfolioID: portfolio.PortfolioID, Limit: 1}, correlationID)
			},
		},
	})

	warnings := make([]string, 0)
	failures := make([]PartialFailure, 0)
	performance := parsePerformance(outcomes[0], &failures, &warnings)
	rebalance := parseRebalance(outcomes[1], &failures, &warnings)

	if s.recorder != nil {
		s.recorder.ObserveFanOut("workbench_overview", len(outcomes), len(failures))
	}
	if len(failures) > 0 {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"portfolio_id": portfolio.PortfolioID,
			"warnings":     warnings,
		}).Warn("workbench overview degraded")
	}

	return &OverviewResponse{
		CorrelationID:       correlationID,
		ContractVersion:     s.contractVersion,
		AsOfDate:            asOf,
		Portfolio:           portfolio,
		Overview:            summary,
		PerformanceSnapshot: performance,
		RebalanceSnapshot:   rebalance,
		Warnings:            warnings,
		PartialFailures:     failures,
	}, core, nil
}
