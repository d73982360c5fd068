package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/models"
)

// AccountStore persists accounts.
type AccountStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewAccountStore(db *surrealdb.DB, logger *common.Logger) *AccountStore {
	return &AccountStore{
		db:     db,
		logger: logger,
	}
}

func (s *AccountStore) Save(ctx context.Context, account *models.Account) error {
	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID("account", account.ID),
		"record": account,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.Account](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to save account after retries: %w", lastErr)
}

func (s *AccountStore) Get(ctx context.Context, id string) (*models.Account, error) {
	record, err := surrealdb.Select[models.Account](ctx, s.db, surrealmodels.NewRecordID("account", id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select account: %w", err)
	}
	if record == nil || record.ID == "" {
		return nil, models.ErrNotFound
	}
	return record, nil
}

func (s *AccountStore) List(ctx context.Context) ([]*models.Account, error) {
	return s.query(ctx, "SELECT * FROM account ORDER BY created_at ASC", nil)
}

func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	sql := "SELECT * FROM account WHERE user_id = $user_id ORDER BY created_at ASC"
	return s.query(ctx, sql, map[string]any{"user_id": userID})
}

func (s *AccountStore) query(ctx context.Context, sql string, vars map[string]any) ([]*models.Account, error) {
	results, err := surrealdb.Query[[]models.Account](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var accounts []*models.Account
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			accounts = append(accounts, &(*results)[0].Result[i])
		}
	}
	return accounts, nil
}
