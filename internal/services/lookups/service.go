// Package lookups serves the selector catalogs (portfolios, instruments,
// currencies) the advisor UI reads from the portfolio data platform.
package lookups

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

const (
	DefaultInstrumentLimit = 200
	MaxInstrumentLimit     = 1000
)

// Catalog is the lookup surface of the portfolio data platform.
type Catalog interface {
	GetPortfolioLookups(ctx context.Context, correlationID string) (int, httputil.Payload, error)
	GetInstrumentLookups(ctx context.Context, limit int, correlationID string) (int, httputil.Payload, error)
	GetCurrencyLookups(ctx context.Context, correlationID string) (int, httputil.Payload, error)
}

// Item is one selector option.
type Item struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Response is a lookup catalog.
type Response struct {
	CorrelationID   string `json:"correlation_id"`
	ContractVersion string `json:"contract_version"`
	Items           []Item `json:"items"`
}

// Service serves lookups.
type Service struct {
	pas             Catalog
	contractVersion string
	logger          *logging.Logger
}

// New creates a Service.
func New(pas Catalog, contractVersion string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{pas: pas, contractVersion: contractVersion, logger: logger}
}

// Portfolios returns the portfolio catalog.
func (s *Service) Portfolios(ctx context.Context, correlationID string) (*Response, error) {
	return s.respond(ctx, correlationID)(s.pas.GetPortfolioLookups(ctx, correlationID))
}

// Instruments returns up to limit instruments. A zero limit means
// DefaultInstrumentLimit.
func (s *Service) Instruments(ctx context.Context, limit int, correlationID string) (*Response, error) {
	if limit == 0 {
		limit = DefaultInstrumentLimit
	}
	if limit < 1 || limit > MaxInstrumentLimit {
		return nil, svcerrors.InvalidRequest(fmt.Sprintf("limit must be between 1 and %d", MaxInstrumentLimit))
	}
	return s.respond(ctx, correlationID)(s.pas.GetInstrumentLookups(ctx, limit, correlationID))
}

// Currencies returns the currency catalog.
func (s *Service) Currencies(ctx context.Context, correlationID string) (*Response, error) {
	return s.respond(ctx, correlationID)(s.pas.GetCurrencyLookups(ctx, correlationID))
}

func (s *Service) respond(ctx context.Context, correlationID string) func(int, httputil.Payload, error) (*Response, error) {
	return func(status int, payload httputil.Payload, err error) (*Response, error) {
		if err != nil {
			return nil, svcerrors.InvalidRequest(err.Error())
		}
		if status >= http.StatusBadRequest {
			return nil, svcerrors.UpstreamPassthrough("pas", status, payload.Detail())
		}
		items, err := parseItems(payload.Get("items"))
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("lookup catalog rejected")
			return nil, svcerrors.Upstream("pas", status, "Invalid PAS lookup contract payload: "+err.Error())
		}
		return &Response{CorrelationID: correlationID, ContractVersion: s.contractVersion, Items: items}, nil
	}
}

// parseItems requires every entry to be an object with string id and label.
// A missing list is an empty catalog.
func parseItems(v gjson.Result) ([]Item, error) {
	items := make([]Item, 0)
	if !v.Exists() {
		return items, nil
	}
	if !v.IsArray() {
		return nil, errors.New("items must be a list")
	}
	for i, entry := range v.Array() {
		id, label := entry.Get("id"), entry.Get("label")
		if !entry.IsObject() || id.Type != gjson.String || label.Type != gjson.String {
			return nil, fmt.Errorf("items[%d] must carry string id and label", i)
		}
		items = append(items, Item{ID: id.Str, Label: label.Str})
	}
	return items, nil
}
