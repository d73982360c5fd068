// Package interfaces defines service contracts for Folio
package interfaces

import (
	"context"
	"time"

	"github.com/sgrimes/folio/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	Transactions() TransactionStore
	Holdings() HoldingStore
	Accounts() AccountStore
	BalanceHistory() BalanceHistoryStore
	Prices() PriceStore

	// Lifecycle
	Close() error
}

// TransactionStore persists the append-only ledger. Every mutation bumps the
// owning user's ledger revision, which the holdings calculator uses to detect
// concurrent writes during a recomputation.
type TransactionStore interface {
	Append(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	// List returns the user's transactions ordered by (date, created_at)
	// ascending. Symbol may be empty to list all symbols.
	List(ctx context.Context, userID, symbol string) ([]*models.Transaction, error)
	Update(ctx context.Context, txn *models.Transaction) error
	Delete(ctx context.Context, id string) error

	ListUsers(ctx context.Context) ([]string, error)
	// EarliestDate returns the date of the oldest transaction for any user,
	// or models.ErrNotFound when the ledger is empty.
	EarliestDate(ctx context.Context) (time.Time, error)
	// Revision returns a counter that increases on every ledger mutation for
	// the user.
	Revision(ctx context.Context, userID string) (int64, error)
}

// HoldingStore persists derived holdings, keyed (user_id, symbol) unique.
type HoldingStore interface {
	// ReplaceAll atomically swaps the user's full holding set.
	ReplaceAll(ctx context.Context, userID string, holdings []*models.Holding) error
	List(ctx context.Context, userID string) ([]*models.Holding, error)
	Get(ctx context.Context, userID, symbol string) (*models.Holding, error)
}

// AccountStore persists accounts.
type AccountStore interface {
	Save(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Account, error)
}

// BalanceHistoryStore persists one row per (account_id, date), unique.
type BalanceHistoryStore interface {
	// SaveDay writes all accounts' records for a single date atomically:
	// external readers never observe a half-written day.
	SaveDay(ctx context.Context, date time.Time, records []*models.BalanceHistoryRecord) error
	Get(ctx context.Context, accountID string, date time.Time) (*models.BalanceHistoryRecord, error)
	ListRange(ctx context.Context, accountID string, start, end time.Time) ([]*models.BalanceHistoryRecord, error)
	// ExistingDates maps day keys (YYYY-MM-DD) to the source of the stored row.
	ExistingDates(ctx context.Context, accountID string, start, end time.Time) (map[string]models.BalanceSource, error)
	// DeleteFrom removes all rows dated on or after the given date and
	// returns the count. Used when a ledger mutation invalidates history.
	DeleteFrom(ctx context.Context, date time.Time) (int, error)
}

// PriceStore is the durable mirror for current quotes and the historical
// close cache used by snapshot reconstruction.
type PriceStore interface {
	SaveQuote(ctx context.Context, quote *models.PriceQuote) error
	GetQuotes(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error)

	SaveDailyCloses(ctx context.Context, closes []*models.DailyClose) error
	GetDailyClose(ctx context.Context, symbol string, date time.Time) (*models.DailyClose, error)
	// LatestCloseOnOrBefore returns the newest close dated <= date, for
	// carry-forward substitution on non-trading days.
	LatestCloseOnOrBefore(ctx context.Context, symbol string, date time.Time) (*models.DailyClose, error)
	// LatestCloseDate returns the newest stored close date for the symbol,
	// or models.ErrNotFound when none exists.
	LatestCloseDate(ctx context.Context, symbol string) (time.Time, error)
}
