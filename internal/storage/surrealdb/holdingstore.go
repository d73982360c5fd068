package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/models"
)

// HoldingStore persists derived holdings, one record per (user, symbol).
type HoldingStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewHoldingStore(db *surrealdb.DB, logger *common.Logger) *HoldingStore {
	return &HoldingStore{
		db:     db,
		logger: logger,
	}
}

func holdingID(userID, symbol string) string {
	return userID + "_" + symbol
}

// ReplaceAll swaps the user's full holding set in a single transaction so a
// concurrent reader never sees a partial set.
func (s *HoldingStore) ReplaceAll(ctx context.Context, userID string, holdings []*models.Holding) error {
	sql := "BEGIN TRANSACTION; DELETE holding WHERE user_id = $user_id;"
	vars := map[string]any{"user_id": userID}
	for i, h := range holdings {
		rid := fmt.Sprintf("rid_%d", i)
		rec := fmt.Sprintf("record_%d", i)
		sql += fmt.Sprintf(" UPSERT $%s CONTENT $%s;", rid, rec)
		vars[rid] = surrealmodels.NewRecordID("holding", holdingID(userID, h.Symbol))
		vars[rec] = h
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
	return fmt.Errorf("failed to replace holdings after retries: %w", lastErr)
}

func (s *HoldingStore) List(ctx context.Context, userID string) ([]*models.Holding, error) {
	sql := "SELECT * FROM holding WHERE user_id = $user_id ORDER BY symbol ASC"
	vars := map[string]any{"user_id": userID}

	results, err := surrealdb.Query[[]models.Holding](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	var holdings []*models.Holding
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			holdings = append(holdings, &(*results)[0].Result[i])
		}
	}
	return holdings, nil
}

func (s *HoldingStore) Get(ctx context.Context, userID, symbol string) (*models.Holding, error) {
	record, err := surrealdb.Select[models.Holding](ctx, s.db, surrealmodels.NewRecordID("holding", holdingID(userID, symbol)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select holding: %w", err)
	}
	if record == nil || record.Symbol == "" {
		return nil, models.ErrNotFound
	}
	return record, nil
}
