package workbench

// Warnings attached to an overview when a secondary source misbehaves.
const (
	WarningPerformanceUnavailable = "PA_SNAPSHOT_UNAVAILABLE"
	WarningPerformanceInvalid     = "PA_SNAPSHOT_INVALID"
	WarningRebalanceUnavailable   = "DPM_REBALANCE_UNAVAILABLE"

	RebalanceNotAvailable = "NOT_AVAILABLE"
)

// PortfolioSummary identifies the portfolio.
type PortfolioSummary struct {
	PortfolioID       string  `json:"portfolio_id"`
	ClientID          *string `json:"client_id"`
	BaseCurrency      string  `json:"base_currency"`
	BookingCenterCode *string `json:"booking_center_code"`
}

// OverviewSummary holds the headline figures. CashWeightPct is a fraction
// of market value, never negative.
type OverviewSummary struct {
	MarketValueBase float64 `json:"market_value_base"`
	CashWeightPct   float64 `json:"cash_weight_pct"`
	PositionCount   int     `json:"position_count"`
}

// PerformanceSnapshot is one period of time-weighted return.
type PerformanceSnapshot struct {
	Period             string   `json:"period"`
	ReturnPct          *float64 `json:"return_pct"`
	BenchmarkReturnPct *float64 `json:"benchmark_return_pct"`
}

// RebalanceSnapshot describes the latest rebalance run.
type RebalanceSnapshot struct {
	Status             string  `json:"status"`
	LastRebalanceRunID *string `json:"last_rebalance_run_id"`
	LastRunAtUTC       *string `json:"last_run_at_utc"`
}

// PartialFailure records a secondary source that could not contribute.
type PartialFailure struct {
	SourceService string `json:"source_service"`
	ErrorCode     string `json:"error_code"`
	Detail        string `json:"detail"`
}

// OverviewResponse is the workbench overview.
type OverviewResponse struct {
	CorrelationID       string               `json:"correlation_id"`
	ContractVersion     string               `json:"contract_version"`
	AsOfDate            string               `json:"as_of_date"`
	Portfolio           PortfolioSummary     `json:"portfolio"`
	Overview            OverviewSummary      `json:"overview"`
	PerformanceSnapshot *PerformanceSnapshot `json:"performance_snapshot"`
	RebalanceSnapshot   *RebalanceSnapshot   `json:"rebalance_snapshot"`
	Warnings            []string             `json:"warnings"`
	PartialFailures     []PartialFailure     `json:"partial_failures"`
}

// Position is one current holding.
type Position struct {
	SecurityID      string   `json:"security_id"`
	InstrumentName  string   `json:"instrument_name"`
	AssetClass      string   `json:"asset_class"`
	Quantity        float64  `json:"quantity"`
	MarketValueBase *float64 `json:"market_value_base"`
	WeightPct       *float64 `json:"weight_pct"`
}

// Portfolio360Response is the overview plus the current positions.
type Portfolio360Response struct {
	OverviewResponse
	CurrentPositions []Position `json:"current_positions"`
}
