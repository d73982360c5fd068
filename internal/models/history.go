package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSource records how a history row was produced.
type BalanceSource string

const (
	// BalanceComputed rows were written by the scheduled per-day snapshot.
	BalanceComputed BalanceSource = "COMPUTED"
	// BalanceBackfilled rows were reconstructed after the fact to fill a gap.
	BalanceBackfilled BalanceSource = "BACKFILLED"
)

// BalanceHistoryRecord is one account's reconstructed value for one day.
// Unique on (AccountID, Date). Rows for past dates are immutable; only
// today's row may be overwritten as the day progresses.
type BalanceHistoryRecord struct {
	AccountID string          `json:"account_id"`
	Date      time.Time       `json:"date"`
	Balance   decimal.Decimal `json:"balance"`
	Source    BalanceSource   `json:"source"`

	// Substituted marks a row valued with a carried-forward close because
	// the date itself had no close for at least one held symbol.
	Substituted bool `json:"substituted,omitempty"`
}

// AccountType distinguishes valued portfolios from manually tracked balances.
type AccountType string

const (
	AccountStockPortfolio AccountType = "STOCK_PORTFOLIO"
	AccountManual         AccountType = "MANUAL"
)

// Account is a container whose daily balance the reconstructor tracks.
// Stock accounts are valued from ledger replay; manual accounts carry
// their balance directly.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// HistoryPoint is one day's portfolio total across accounts.
type HistoryPoint struct {
	Date    time.Time       `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}
