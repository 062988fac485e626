package workbench

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/sgajbi/advisor-experience-api/internal/fanout"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
)

var errInvalidCoreSnapshot = errors.New("invalid core snapshot payload structure")

// parseCoreSnapshot extracts the portfolio and overview figures from a core
// snapshot. It fails only when "portfolio" or "snapshot" is present but not
// an object; every other malformed field falls back to its default.
func parseCoreSnapshot(payload httputil.Payload, portfolioID, fallbackAsOf string) (PortfolioSummary, OverviewSummary, string, error) {
	portfolio := payload.Get("portfolio")
	snapshot := payload.Get("snapshot")
	if (portfolio.Exists() && !portfolio.IsObject()) || (snapshot.Exists() && !snapshot.IsObject()) {
		return PortfolioSummary{}, OverviewSummary{}, "", errInvalidCoreSnapshot
	}

	overview := snapshot.Get("overview")
	marketValue, _ := numberValue(overview.Get("total_market_value"))
	cash, _ := numberValue(overview.Get("total_cash"))

	summary := OverviewSummary{
		MarketValueBase: marketValue,
		CashWeightPct:   cashWeight(cash, marketValue),
		PositionCount:   countPositions(snapshot.Get("holdings.holdingsByAssetClass")),
	}

	asOf := fallbackAsOf
	if v := snapshot.Get("as_of_date"); v.Exists() && v.Type != gjson.Null {
		asOf = stringify(v)
	}

	info := PortfolioSummary{
		PortfolioID:       portfolioID,
		BaseCurrency:      "USD",
		ClientID:          optionalString(portfolio.Get("cif_id")),
		BookingCenterCode: optionalString(portfolio.Get("booking_center")),
	}
	if v := portfolio.Get("portfolio_id"); v.Exists() && v.Type != gjson.Null {
		info.PortfolioID = stringify(v)
	}
	if v := portfolio.Get("base_currency"); v.Exists() && v.Type != gjson.Null {
		info.BaseCurrency = stringify(v)
	}

	return info, summary, asOf, nil
}

// cashWeight is max(0, cash/marketValue), or 0 when there is no market value.
func cashWeight(cash, marketValue float64) float64 {
	if marketValue <= 0 {
		return 0
	}
	w := decimal.NewFromFloat(cash).Div(decimal.NewFromFloat(marketValue))
	if w.IsNegative() {
		return 0
	}
	f := w.InexactFloat64()
	if math.IsInf(f, 0) {
		return 0
	}
	return f
}

func countPositions(byAssetClass gjson.Result) int {
	if !byAssetClass.IsObject() {
		return 0
	}
	count := 0
	byAssetClass.ForEach(func(_, positions gjson.Result) bool {
		if positions.IsArray() {
			count += len(positions.Array())
		}
		return true
	})
	return count
}

// parsePerformance reads the PA outcome. It returns nil when the source
// failed or has no usable period.
func parsePerformance(o fanout.Outcome, failures *[]PartialFailure, warnings *[]string) *PerformanceSnapshot {
	if o.Failed() {
		*failures = append(*failures, PartialFailure{SourceService: o.Name, ErrorCode: o.ErrorCode(), Detail: o.Detail()})
		*warnings = append(*warnings, WarningPerformanceUnavailable)
		return nil
	}

	periods := o.Payload.Get("resultsByPeriod")
	if !periods.Exists() {
		return nil
	}
	if !periods.IsObject() {
		*warnings = append(*warnings, WarningPerformanceInvalid)
		return nil
	}

	key := ""
	var period gjson.Result
	if ytd := periods.Get("YTD"); ytd.Exists() {
		key, period = "YTD", ytd
	} else {
		periods.ForEach(func(k, v gjson.Result) bool {
			key, period = k.String(), v
			return false
		})
	}
	if key == "" && !period.Exists() {
		return nil
	}
	if !period.IsObject() {
		return nil
	}

	snapshot := &PerformanceSnapshot{Period: key}
	if v, ok := numberValue(period.Get("net_cumulative_return")); ok {
		snapshot.ReturnPct = &v
	}
	return snapshot
}

// parseRebalance reads the DPM runs outcome.
func parseRebalance(o fanout.Outcome, failures *[]PartialFailure, warnings *[]string) *RebalanceSnapshot {
	if o.Failed() {
		*failures = append(*failures, PartialFailure{SourceService: o.Name, ErrorCode: o.ErrorCode(), Detail: o.Detail()})
		*warnings = append(*warnings, WarningRebalanceUnavailable)
		return nil
	}

	items := o.Payload.Get("items")
	if !items.IsArray() {
		return &RebalanceSnapshot{Status: RebalanceNotAvailable}
	}
	list := items.Array()
	if len(list) == 0 || !list[0].IsObject() {
		return &RebalanceSnapshot{Status: RebalanceNotAvailable}
	}
	latest := list[0]

	snapshot := &RebalanceSnapshot{
		Status:             "UNKNOWN",
		LastRebalanceRunID: optionalString(latest.Get("rebalance_run_id")),
	}
	if v := latest.Get("status"); v.Exists() && v.Type != gjson.Null {
		snapshot.Status = stringify(v)
	}
	if v := latest.Get("created_at"); v.Type == gjson.String {
		createdAt := v.Str
		snapshot.LastRunAtUTC = &createdAt
	}
	return snapshot
}

// parsePositions lists the holdings of a core snapshot, sorted by security id.
func parsePositions(payload httputil.Payload) []Position {
	snapshot := payload.Get("snapshot")
	totalMarketValue, _ := numberValue(snapshot.Get("overview.total_market_value"))
	byAssetClass := snapshot.Get("holdings.holdingsByAssetClass")

	positions := make([]Position, 0)
	if !byAssetClass.IsObject() {
		return positions
	}
	byAssetClass.ForEach(func(assetClass, items gjson.Result) bool {
		if !items.IsArray() {
			return true
		}
		items.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				return true
			}
			positions = append(positions, parsePosition(assetClass.String(), item, totalMarketValue))
			return true
		})
		return true
	})
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].SecurityID < positions[j].SecurityID
	})
	return positions
}

var marketValueKeys = []string{"market_value_base", "market_value", "current_value_base", "current_value"}

func parsePosition(assetClass string, item gjson.Result, totalMarketValue float64) Position {
	p := Position{
		SecurityID:     firstString(item, "UNKNOWN", "instrument_id", "security_id"),
		InstrumentName: firstString(item, "UNKNOWN", "instrument_name", "instrument_id"),
		AssetClass:     assetClass,
	}
	p.Quantity, _ = numberValue(item.Get("quantity"))

	if valuation := item.Get("valuation"); valuation.IsObject() {
		p.MarketValueBase = firstNumber(valuation, marketValueKeys...)
	}
	if p.MarketValueBase == nil {
		p.MarketValueBase = firstNumber(item, append(marketValueKeys, "valuation_base", "value_base")...)
	}

	if w, ok := numberValue(item.Get("weight_pct")); ok {
		p.WeightPct = &w
	} else if p.MarketValueBase != nil && totalMarketValue > 0 {
		w := decimal.NewFromFloat(*p.MarketValueBase).
			Div(decimal.NewFromFloat(totalMarketValue)).
			Mul(decimal.NewFromInt(100)).
			InexactFloat64()
		if !math.IsInf(w, 0) {
			p.WeightPct = &w
		}
	}
	return p
}

func firstString(item gjson.Result, fallback string, keys ...string) string {
	for _, key := range keys {
		if v := item.Get(key); v.Exists() && v.Type != gjson.Null {
			return stringify(v)
		}
	}
	return fallback
}

func firstNumber(item gjson.Result, keys ...string) *float64 {
	for _, key := range keys {
		if v, ok := numberValue(item.Get(key)); ok {
			return &v
		}
	}
	return nil
}

// numberValue accepts JSON numbers and numeric strings. NaN and infinite
// values (including literals out of float64 range) count as absent.
func numberValue(r gjson.Result) (float64, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func optionalString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := stringify(r)
	return &s
}

func stringify(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return strings.TrimSpace(r.Raw)
}
