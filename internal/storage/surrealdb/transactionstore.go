package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/models"
)

// TransactionStore persists the ledger in the transaction table, with a
// per-user revision counter in ledger_revision that every mutation bumps.
type TransactionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewTransactionStore(db *surrealdb.DB, logger *common.Logger) *TransactionStore {
	return &TransactionStore{
		db:     db,
		logger: logger,
	}
}

// revisionRow is the ledger_revision table shape.
type revisionRow struct {
	UserID   string `json:"user_id"`
	Revision int64  `json:"revision"`
}

// bumpRevision increments the user's ledger revision counter.
func (s *TransactionStore) bumpRevision(ctx context.Context, userID string) error {
	sql := "UPSERT $rid SET user_id = $user_id, revision += 1"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("ledger_revision", userID),
		"user_id": userID,
	}
	if _, err := surrealdb.Query[[]revisionRow](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to bump ledger revision: %w", err)
	}
	return nil
}

func (s *TransactionStore) Append(ctx context.Context, txn *models.Transaction) error {
	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID("transaction", txn.ID),
		"record": txn,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.Transaction](ctx, s.db, sql, vars)
		if err == nil {
			return s.bumpRevision(ctx, txn.UserID)
		}
		lastErr = err
	}
	return fmt.Errorf("failed to append transaction after retries: %w", lastErr)
}

func (s *TransactionStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	record, err := surrealdb.Select[models.Transaction](ctx, s.db, surrealmodels.NewRecordID("transaction", id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select transaction: %w", err)
	}
	if record == nil || record.ID == "" {
		return nil, models.ErrNotFound
	}
	return record, nil
}

func (s *TransactionStore) List(ctx context.Context, userID, symbol string) ([]*models.Transaction, error) {
	sql := "SELECT * FROM transaction WHERE user_id = $user_id"
	vars := map[string]any{"user_id": userID}
	if symbol != "" {
		sql += " AND symbol = $symbol"
		vars["symbol"] = symbol
	}
	sql += " ORDER BY transaction_date ASC, created_at ASC"

	results, err := surrealdb.Query[[]models.Transaction](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var txns []*models.Transaction
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			txns = append(txns, &(*results)[0].Result[i])
		}
	}
	models.SortTransactions(txns)
	return txns, nil
}

func (s *TransactionStore) Update(ctx context.Context, txn *models.Transaction) error {
	if _, err := s.Get(ctx, txn.ID); err != nil {
		return err
	}

	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID("transaction", txn.ID),
		"record": txn,
	}
	if _, err := surrealdb.Query[[]models.Transaction](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return s.bumpRevision(ctx, txn.UserID)
}

func (s *TransactionStore) Delete(ctx context.Context, id string) error {
	txn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if _, err := surrealdb.Delete[models.Transaction](ctx, s.db, surrealmodels.NewRecordID("transaction", id)); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return s.bumpRevision(ctx, txn.UserID)
}

func (s *TransactionStore) ListUsers(ctx context.Context) ([]string, error) {
	sql := "SELECT user_id FROM transaction GROUP BY user_id"

	type row struct {
		UserID string `json:"user_id"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger users: %w", err)
	}

	var users []string
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			users = append(users, r.UserID)
		}
	}
	return users, nil
}

func (s *TransactionStore) EarliestDate(ctx context.Context) (time.Time, error) {
	sql := "SELECT * FROM transaction ORDER BY transaction_date ASC LIMIT 1"

	results, err := surrealdb.Query[[]models.Transaction](ctx, s.db, sql, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to find earliest transaction: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return time.Time{}, models.ErrNotFound
	}
	return models.DateOf((*results)[0].Result[0].Date), nil
}

func (s *TransactionStore) Revision(ctx context.Context, userID string) (int64, error) {
	record, err := surrealdb.Select[revisionRow](ctx, s.db, surrealmodels.NewRecordID("ledger_revision", userID))
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to select ledger revision: %w", err)
	}
	if record == nil {
		return 0, nil
	}
	return record.Revision, nil
}
