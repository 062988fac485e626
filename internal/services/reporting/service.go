// Package reporting serves report-ready portfolio snapshots from the
// reporting aggregation service.
package reporting

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// SourceService names the upstream in every snapshot response.
const SourceService = "reporting-aggregation-service"

// SnapshotFetcher loads aggregated portfolio rows.
type SnapshotFetcher interface {
	GetPortfolioSnapshot(ctx context.Context, portfolioID, asOfDate, correlationID string) (int, httputil.Payload, error)
}

// SnapshotResponse is a report-ready snapshot.
type SnapshotResponse struct {
	CorrelationID   string             `json:"correlationId"`
	ContractVersion string             `json:"contractVersion"`
	SourceService   string             `json:"sourceService"`
	PortfolioID     string             `json:"portfolioId"`
	AsOfDate        string             `json:"asOfDate"`
	GeneratedAt     time.Time          `json:"generatedAt"`
	Rows            []httputil.Payload `json:"rows"`
}

// Service fetches reporting snapshots.
type Service struct {
	ras             SnapshotFetcher
	contractVersion string
	logger          *logging.Logger
	clock           func() time.Time
}

// New creates a Service.
func New(ras SnapshotFetcher, contractVersion string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{ras: ras, contractVersion: contractVersion, logger: logger, clock: time.Now}
}

// GetSnapshot returns the snapshot rows for one portfolio and date. Any
// upstream error status is answered with 502.
func (s *Service) GetSnapshot(ctx context.Context, portfolioID, asOfDate, correlationID string) (*SnapshotResponse, error) {
	if strings.TrimSpace(portfolioID) == "" {
		return nil, svcerrors.InvalidRequest("portfolio id is required")
	}
	if strings.TrimSpace(asOfDate) == "" {
		return nil, svcerrors.InvalidRequest("asOfDate is required")
	}

	status, payload, err := s.ras.GetPortfolioSnapshot(ctx, portfolioID, asOfDate, correlationID)
	if err != nil {
		return nil, svcerrors.InvalidRequest(err.Error())
	}
	if status >= http.StatusBadRequest {
		s.logger.WithContext(ctx).WithField("upstream_status", status).Warn("reporting snapshot unavailable")
		return nil, svcerrors.Upstream("ras", status, "Reporting snapshot unavailable: "+payload.Detail())
	}

	return &SnapshotResponse{
		CorrelationID:   correlationID,
		ContractVersion: s.contractVersion,
		SourceService:   SourceService,
		PortfolioID:     portfolioID,
		AsOfDate:        asOfDate,
		GeneratedAt:     s.generatedAt(payload.Get("generatedAt")),
		Rows:            rows(payload.Get("rows")),
	}, nil
}

func (s *Service) generatedAt(v gjson.Result) time.Time {
	if v.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t.UTC()
		}
	}
	return s.clock().UTC()
}

// rows keeps the object entries of the upstream row list.
func rows(v gjson.Result) []httputil.Payload {
	out := make([]httputil.Payload, 0)
	if !v.IsArray() {
		return out
	}
	v.ForEach(func(_, row gjson.Result) bool {
		if row.IsObject() {
			out = append(out, httputil.NewPayload([]byte(row.Raw)))
		}
		return true
	})
	return out
}
