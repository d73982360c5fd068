package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is the derived current position for one (user, symbol) pair.
// It is never hand-edited: each recomputation pass replaces the full set.
type Holding struct {
	UserID             string          `json:"user_id"`
	Symbol             string          `json:"symbol"`
	Quantity           decimal.Decimal `json:"quantity"`
	AvgCostBasis       decimal.Decimal `json:"avg_cost_basis"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	RealizedGain       decimal.Decimal `json:"realized_gain"`
	LastRecalculatedAt time.Time       `json:"last_recalculated_at"`
}

// MarketValue values the position at the given price.
func (h *Holding) MarketValue(price decimal.Decimal) decimal.Decimal {
	return h.Quantity.Mul(price)
}

// UnrealizedGain is market value minus cost basis at the given price.
func (h *Holding) UnrealizedGain(price decimal.Decimal) decimal.Decimal {
	return h.MarketValue(price).Sub(h.Quantity.Mul(h.AvgCostBasis))
}
