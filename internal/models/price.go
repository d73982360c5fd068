package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one cached live price. Entries are ephemeral; the durable
// PriceStore mirror exists only for display continuity across restarts.
type PriceQuote struct {
	Symbol                string          `json:"symbol"`
	Price                 decimal.Decimal `json:"price"`
	DailyChange           decimal.Decimal `json:"daily_change"`
	DailyChangePct        decimal.Decimal `json:"daily_change_pct"`
	CompanyName           string          `json:"company_name,omitempty"`
	FetchedAt             time.Time       `json:"fetched_at"`
	MarketOpenWhenFetched bool            `json:"market_open_when_fetched"`

	// Stale marks a value served past its freshness window because a refresh
	// failed. The rest of the portfolio must still render.
	Stale bool `json:"stale,omitempty"`
}

// DailyClose is one historical closing price for a symbol.
type DailyClose struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Close  decimal.Decimal `json:"close"`
}
