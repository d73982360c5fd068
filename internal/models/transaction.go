// Package models defines the domain types for Folio
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes buys from sells.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Transaction is one append-only ledger entry. Records are immutable once
// written except for administrative corrections, which must trigger
// downstream recomputation.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	AccountID     string          `json:"account_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Type          TransactionType `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	Date          time.Time       `json:"transaction_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Normalize uppercases the symbol and derives TotalCost when absent.
func (t *Transaction) Normalize() {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.Date = DateOf(t.Date)
	if t.TotalCost.IsZero() {
		t.TotalCost = t.Quantity.Mul(t.PricePerShare)
	}
}

// Validate checks the transaction before it may reach the ledger.
func (t *Transaction) Validate() error {
	if t.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if t.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "required"}
	}
	if t.Type != TransactionBuy && t.Type != TransactionSell {
		return &ValidationError{Field: "type", Reason: "must be BUY or SELL"}
	}
	if !t.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !t.PricePerShare.IsPositive() {
		return &ValidationError{Field: "price_per_share", Reason: "must be greater than zero"}
	}
	if t.Date.IsZero() {
		return &ValidationError{Field: "transaction_date", Reason: "required"}
	}
	return nil
}

// TransactionPatch carries administrative corrections to an existing entry.
// Nil fields are left unchanged.
type TransactionPatch struct {
	Symbol        *string
	Type          *TransactionType
	Quantity      *decimal.Decimal
	PricePerShare *decimal.Decimal
	TotalCost     *decimal.Decimal
	Date          *time.Time
}

// SortTransactions orders entries by the ledger replay key:
// (transaction date, created at) ascending.
func SortTransactions(txns []*Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}
