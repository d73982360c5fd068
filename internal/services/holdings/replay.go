// Package holdings derives current positions from the transaction ledger.
package holdings

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sgrimes/folio/internal/models"
)

// Replay folds a user's transactions, ordered by (date, created_at), into a
// holding per symbol. It is a pure function of the ledger: no hidden state,
// so recomputation on an unchanged ledger is idempotent.
//
// BUY moves the average cost basis to the quantity-weighted mean:
//
//	newAvg = (oldQty*oldAvg + buyQty*buyPrice) / (oldQty + buyQty)
//
// SELL leaves the average cost unchanged, reduces quantity, and accrues
// realized gain at sellQty*(sellPrice - avgCost). A SELL that would take the
// position below zero aborts the whole replay with
// InsufficientHoldingsError.
func Replay(txns []*models.Transaction) (map[string]*models.Holding, error) {
	models.SortTransactions(txns)

	type position struct {
		quantity     decimal.Decimal
		totalCost    decimal.Decimal
		realizedGain decimal.Decimal
	}
	positions := make(map[string]*position)

	for _, txn := range txns {
		pos := positions[txn.Symbol]
		if pos == nil {
			pos = &position{}
			positions[txn.Symbol] = pos
		}

		switch txn.Type {
		case models.TransactionBuy:
			cost := txn.TotalCost
			if cost.IsZero() {
				cost = txn.Quantity.Mul(txn.PricePerShare)
			}
			pos.totalCost = pos.totalCost.Add(cost)
			pos.quantity = pos.quantity.Add(txn.Quantity)

		case models.TransactionSell:
			if txn.Quantity.GreaterThan(pos.quantity) {
				return nil, &models.InsufficientHoldingsError{
					Symbol:    txn.Symbol,
					Held:      pos.quantity,
					Requested: txn.Quantity,
				}
			}
			avgCost := pos.totalCost.Div(pos.quantity)
			pos.realizedGain = pos.realizedGain.Add(txn.Quantity.Mul(txn.PricePerShare.Sub(avgCost)))
			pos.totalCost = pos.totalCost.Sub(txn.Quantity.Mul(avgCost))
			pos.quantity = pos.quantity.Sub(txn.Quantity)
			if pos.quantity.IsZero() {
				pos.totalCost = decimal.Zero
			}
		}
	}

	out := make(map[string]*models.Holding)
	for symbol, pos := range positions {
		// Closed positions drop out of the holding set entirely.
		if !pos.quantity.IsPositive() {
			continue
		}
		out[symbol] = &models.Holding{
			Symbol:       symbol,
			Quantity:     pos.quantity,
			AvgCostBasis: pos.totalCost.Div(pos.quantity),
			TotalCost:    pos.totalCost,
			RealizedGain: pos.realizedGain,
		}
	}
	return out, nil
}

// ReplayAsOf replays only transactions dated on or before cutoff.
func ReplayAsOf(txns []*models.Transaction, cutoff time.Time) (map[string]*models.Holding, error) {
	day := models.DateOf(cutoff)
	var filtered []*models.Transaction
	for _, txn := range txns {
		if !models.DateOf(txn.Date).After(day) {
			filtered = append(filtered, txn)
		}
	}
	return Replay(filtered)
}
