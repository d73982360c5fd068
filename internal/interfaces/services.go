// Package interfaces defines service contracts for Folio
package interfaces

import (
	"context"
	"time"

	"github.com/sgrimes/folio/internal/models"
)

// LedgerService manages the append-only transaction ledger. Every mutation
// triggers a holdings recomputation and invalidates balance history from the
// affected date forward.
type LedgerService interface {
	// Append validates and writes a new transaction.
	Append(ctx context.Context, txn *models.Transaction) (*models.Transaction, error)

	// List returns transactions for a user, optionally filtered by symbol.
	List(ctx context.Context, userID, symbol string) ([]*models.Transaction, error)

	// Remove deletes a transaction. Deletion is a first-class event: derived
	// holdings and history are recomputed, never silently dropped.
	Remove(ctx context.Context, id string) error

	// Update applies an administrative correction to an existing transaction.
	Update(ctx context.Context, id string, patch models.TransactionPatch) (*models.Transaction, error)
}

// HoldingsService derives current positions from the ledger.
type HoldingsService interface {
	// Recalculate replays the user's full ledger and atomically replaces the
	// derived holding set. Idempotent on an unchanged ledger.
	Recalculate(ctx context.Context, userID string) (map[string]*models.Holding, error)

	// Holdings returns the stored holding set without recomputing.
	Holdings(ctx context.Context, userID string) ([]*models.Holding, error)
}

// PriceService is the market-hours-aware price cache.
type PriceService interface {
	// GetPrices returns one entry per requested symbol, refreshing stale
	// entries in a single coalesced provider call. A symbol whose refresh
	// failed is served from its last-known value with Stale set; a symbol
	// with no value at all is omitted, and the first PriceUnavailableError
	// is returned alongside the resolved quotes.
	GetPrices(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error)

	// Refresh force-fetches the given symbols regardless of freshness.
	Refresh(ctx context.Context, symbols []string) error

	// MarketOpen reports whether the exchange is currently open.
	MarketOpen() bool
}

// SnapshotService reconstructs daily account balances.
type SnapshotService interface {
	// CreateForDate writes one balance record per account for the date.
	// Rows for past dates are immutable and left untouched; only today's
	// row may be rewritten. Returns the number of records written.
	CreateForDate(ctx context.Context, date time.Time) (int, error)

	// Backfill runs CreateForDate for each day in the inclusive range,
	// skipping days that already have computed rows. Safe to re-run.
	Backfill(ctx context.Context, start, end time.Time) (int, error)

	// FillMissing discovers and backfills gaps between each account's first
	// activity and today.
	FillMissing(ctx context.Context) (int, error)

	// InvalidateFrom drops history rows dated on or after the given date and
	// schedules their reconstruction.
	InvalidateFrom(ctx context.Context, date time.Time) error
}

// ValuationService composes holdings, prices, and history for callers.
type ValuationService interface {
	Summary(ctx context.Context, userID string) (*models.PortfolioSummary, error)
	DetailedSummary(ctx context.Context, userID string) (*models.DetailedSummary, error)
	Performance(ctx context.Context, userID, period string) (*models.PerformanceReport, error)
}

// JobManager runs background snapshot work.
type JobManager interface {
	// Submit enqueues a job unless an equivalent one is already pending.
	Submit(job *models.Job) bool
	Start()
	Stop()
}
