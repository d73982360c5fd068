package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionValue is one holding valued against the live price cache.
type PositionValue struct {
	Symbol            string          `json:"symbol"`
	CompanyName       string          `json:"company_name,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	AvgCostBasis      decimal.Decimal `json:"avg_cost_basis"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	MarketValue       decimal.Decimal `json:"market_value"`
	UnrealizedGain    decimal.Decimal `json:"unrealized_gain"`
	UnrealizedGainPct decimal.Decimal `json:"unrealized_gain_pct"`
	RealizedGain      decimal.Decimal `json:"realized_gain"`
	DailyChange       decimal.Decimal `json:"daily_change"`
	DailyChangePct    decimal.Decimal `json:"daily_change_pct"`
	Weight            decimal.Decimal `json:"weight"`
	PriceFetchedAt    time.Time       `json:"price_fetched_at"`
	PriceStale        bool            `json:"price_stale,omitempty"`
}

// PortfolioSummary is the current valuation of a user's holdings.
type PortfolioSummary struct {
	UserID            string          `json:"user_id"`
	GeneratedAt       time.Time       `json:"generated_at"`
	Positions         []PositionValue `json:"positions"`
	TotalPositions    int             `json:"total_positions"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	UnrealizedGain    decimal.Decimal `json:"unrealized_gain"`
	UnrealizedGainPct decimal.Decimal `json:"unrealized_gain_pct"`
	RealizedGain      decimal.Decimal `json:"realized_gain"`
	MarketOpen        bool            `json:"market_open"`
	StalePrices       bool            `json:"stale_prices,omitempty"`
}

// DetailedSummary extends PortfolioSummary with composition statistics.
type DetailedSummary struct {
	PortfolioSummary
	LargestPosition     decimal.Decimal `json:"largest_position"`
	SmallestPosition    decimal.Decimal `json:"smallest_position"`
	AveragePositionSize decimal.Decimal `json:"average_position_size"`
}

// PerformanceReport is the balance-history series for a period plus the
// percentage change between its first and last available records.
type PerformanceReport struct {
	UserID    string          `json:"user_id"`
	Period    string          `json:"period"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	Points    []HistoryPoint  `json:"points"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"change_pct"`
}
