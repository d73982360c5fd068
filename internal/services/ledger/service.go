// Package ledger manages the append-only transaction ledger.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
	"github.com/sgrimes/folio/internal/services/holdings"
)

// Ensure Service implements LedgerService
var _ interfaces.LedgerService = (*Service)(nil)

// Service validates ledger writes and drives the downstream recomputation
// that every mutation requires: holdings are recalculated and balance history
// is invalidated from the affected date forward.
type Service struct {
	storage  interfaces.StorageManager
	holdings interfaces.HoldingsService
	snapshot interfaces.SnapshotService
	logger   *common.Logger
	now      func() time.Time
}

// NewService creates a new ledger service.
func NewService(storage interfaces.StorageManager, holdingsSvc interfaces.HoldingsService, snapshotSvc interfaces.SnapshotService, logger *common.Logger) *Service {
	return &Service{
		storage:  storage,
		holdings: holdingsSvc,
		snapshot: snapshotSvc,
		logger:   logger,
		now:      time.Now,
	}
}

// Append validates and writes a new transaction. A SELL is rejected before it
// reaches the ledger when the replayed position cannot cover it, so the
// ledger never contains an entry that would make replay fail.
func (s *Service) Append(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	txn.Normalize()
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.now()
	}

	if txn.Type == models.TransactionSell {
		if err := s.checkSellCovered(ctx, txn.UserID, txn); err != nil {
			return nil, err
		}
	}

	if err := s.storage.Transactions().Append(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	s.logger.Info().
		Str("user", txn.UserID).
		Str("symbol", txn.Symbol).
		Str("type", string(txn.Type)).
		Str("quantity", txn.Quantity.String()).
		Msg("Transaction appended")

	if err := s.recomputeAfterMutation(ctx, txn.UserID, txn.Date); err != nil {
		return nil, err
	}

	return txn, nil
}

// List returns the user's transactions, optionally filtered by symbol,
// ordered by (date, created_at) ascending.
func (s *Service) List(ctx context.Context, userID, symbol string) ([]*models.Transaction, error) {
	return s.storage.Transactions().List(ctx, userID, symbol)
}

// Remove deletes a transaction and recomputes everything it influenced. The
// remaining ledger must still replay cleanly, so removing a buy that covers
// later sells is rejected before the delete is committed.
func (s *Service) Remove(ctx context.Context, id string) error {
	txn, err := s.storage.Transactions().Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.checkLedgerWithout(ctx, txn); err != nil {
		return err
	}

	if err := s.storage.Transactions().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	s.logger.Info().
		Str("user", txn.UserID).
		Str("symbol", txn.Symbol).
		Str("id", id).
		Msg("Transaction removed")

	return s.recomputeAfterMutation(ctx, txn.UserID, txn.Date)
}

// Update applies an administrative correction. The replayed ledger with the
// patch applied must still be consistent, so the full post-patch ledger is
// replayed before the write is committed.
func (s *Service) Update(ctx context.Context, id string, patch models.TransactionPatch) (*models.Transaction, error) {
	txn, err := s.storage.Transactions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	earliest := txn.Date

	if patch.Symbol != nil {
		txn.Symbol = *patch.Symbol
	}
	if patch.Type != nil {
		txn.Type = *patch.Type
	}
	if patch.Quantity != nil {
		txn.Quantity = *patch.Quantity
	}
	if patch.PricePerShare != nil {
		txn.PricePerShare = *patch.PricePerShare
	}
	if patch.TotalCost != nil {
		txn.TotalCost = *patch.TotalCost
	}
	if patch.Date != nil {
		txn.Date = models.DateOf(*patch.Date)
	}

	txn.Normalize()
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	if err := s.checkPatchedLedger(ctx, txn); err != nil {
		return nil, err
	}

	if err := s.storage.Transactions().Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	s.logger.Info().
		Str("user", txn.UserID).
		Str("id", id).
		Msg("Transaction corrected")

	// History is stale from the earlier of the old and new dates.
	if txn.Date.Before(earliest) {
		earliest = txn.Date
	}
	if err := s.recomputeAfterMutation(ctx, txn.UserID, earliest); err != nil {
		return nil, err
	}

	return txn, nil
}

// checkSellCovered trial-replays the user's ledger for the symbol with the
// sell included. Checking the final position alone is not enough: a sell
// dated before its covering buy must fail at its place in the replay order,
// not pass on the end-of-ledger quantity.
func (s *Service) checkSellCovered(ctx context.Context, userID string, sell *models.Transaction) error {
	txns, err := s.storage.Transactions().List(ctx, userID, sell.Symbol)
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	trial := append(txns[:len(txns):len(txns)], sell)
	_, err = holdings.Replay(trial)
	return err
}

// checkLedgerWithout replays the user's ledger with the given transaction
// excluded and returns the replay error, if any.
func (s *Service) checkLedgerWithout(ctx context.Context, removed *models.Transaction) error {
	txns, err := s.storage.Transactions().List(ctx, removed.UserID, "")
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	trial := make([]*models.Transaction, 0, len(txns))
	for _, txn := range txns {
		if txn.ID == removed.ID {
			continue
		}
		trial = append(trial, txn)
	}

	_, err = holdings.Replay(trial)
	return err
}

// checkPatchedLedger replays the user's ledger with the patched transaction
// substituted in and returns the replay error, if any.
func (s *Service) checkPatchedLedger(ctx context.Context, patched *models.Transaction) error {
	txns, err := s.storage.Transactions().List(ctx, patched.UserID, "")
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	trial := make([]*models.Transaction, 0, len(txns))
	for _, txn := range txns {
		if txn.ID == patched.ID {
			trial = append(trial, patched)
			continue
		}
		trial = append(trial, txn)
	}

	_, err = holdings.Replay(trial)
	return err
}

// recomputeAfterMutation rebuilds holdings and invalidates balance history
// from the affected date onward.
func (s *Service) recomputeAfterMutation(ctx context.Context, userID string, from time.Time) error {
	if _, err := s.holdings.Recalculate(ctx, userID); err != nil {
		return err
	}
	if err := s.snapshot.InvalidateFrom(ctx, from); err != nil {
		return fmt.Errorf("failed to invalidate balance history: %w", err)
	}
	return nil
}
