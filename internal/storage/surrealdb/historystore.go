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

// BalanceHistoryStore persists one row per (account, date).
type BalanceHistoryStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewBalanceHistoryStore(db *surrealdb.DB, logger *common.Logger) *BalanceHistoryStore {
	return &BalanceHistoryStore{
		db:     db,
		logger: logger,
	}
}

func historyID(accountID string, date time.Time) string {
	return accountID + "_" + models.DateString(date)
}

// SaveDay writes the whole day in one transaction so readers never observe a
// half-written day.
func (s *BalanceHistoryStore) SaveDay(ctx context.Context, date time.Time, records []*models.BalanceHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	sql := "BEGIN TRANSACTION;"
	vars := map[string]any{}
	for i, record := range records {
		rid := fmt.Sprintf("rid_%d", i)
		rec := fmt.Sprintf("record_%d", i)
		sql += fmt.Sprintf(" UPSERT $%s CONTENT $%s;", rid, rec)
		vars[rid] = surrealmodels.NewRecordID("balance_history", historyID(record.AccountID, date))
		vars[rec] = record
	}
	sql += " COMMIT TRANSACTION;"

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to save balance history day after retries: %w", lastErr)
}

func (s *BalanceHistoryStore) Get(ctx context.Context, accountID string, date time.Time) (*models.BalanceHistoryRecord, error) {
	record, err := surrealdb.Select[models.BalanceHistoryRecord](ctx, s.db, surrealmodels.NewRecordID("balance_history", historyID(accountID, date)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select balance history record: %w", err)
	}
	if record == nil || record.AccountID == "" {
		return nil, models.ErrNotFound
	}
	return record, nil
}

func (s *BalanceHistoryStore) ListRange(ctx context.Context, accountID string, start, end time.Time) ([]*models.BalanceHistoryRecord, error) {
	sql := "SELECT * FROM balance_history WHERE account_id = $account_id AND date >= $start AND date <= $end ORDER BY date ASC"
	vars := map[string]any{
		"account_id": accountID,
		"start":      models.DateOf(start),
		"end":        models.DateOf(end),
	}
	return s.query(ctx, sql, vars)
}

func (s *BalanceHistoryStore) ExistingDates(ctx context.Context, accountID string, start, end time.Time) (map[string]models.BalanceSource, error) {
	rows, err := s.ListRange(ctx, accountID, start, end)
	if err != nil {
		return nil, err
	}
	dates := make(map[string]models.BalanceSource, len(rows))
	for _, row := range rows {
		dates[models.DateString(row.Date)] = row.Source
	}
	return dates, nil
}

func (s *BalanceHistoryStore) DeleteFrom(ctx context.Context, date time.Time) (int, error) {
	sql := "DELETE balance_history WHERE date >= $date RETURN BEFORE"
	vars := map[string]any{"date": models.DateOf(date)}

	results, err := surrealdb.Query[[]models.BalanceHistoryRecord](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to delete balance history: %w", err)
	}

	count := 0
	if results != nil && len(*results) > 0 {
		count = len((*results)[0].Result)
	}
	return count, nil
}

func (s *BalanceHistoryStore) query(ctx context.Context, sql string, vars map[string]any) ([]*models.BalanceHistoryRecord, error) {
	results, err := surrealdb.Query[[]models.BalanceHistoryRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance history: %w", err)
	}

	var rows []*models.BalanceHistoryRecord
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			rows = append(rows, &(*results)[0].Result[i])
		}
	}
	return rows, nil
}
