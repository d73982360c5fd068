// Package surrealdb implements storage on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	transactionStore *TransactionStore
	holdingStore     *HoldingStore
	accountStore     *AccountStore
	historyStore     *BalanceHistoryStore
	priceStore       *PriceStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables up front (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"transaction", "ledger_revision", "holding", "account", "balance_history", "price_quote", "daily_close"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}

	m.transactionStore = NewTransactionStore(db, logger)
	m.holdingStore = NewHoldingStore(db, logger)
	m.accountStore = NewAccountStore(db, logger)
	m.historyStore = NewBalanceHistoryStore(db, logger)
	m.priceStore = NewPriceStore(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) Transactions() interfaces.TransactionStore {
	return m.transactionStore
}

func (m *Manager) Holdings() interfaces.HoldingStore {
	return m.holdingStore
}

func (m *Manager) Accounts() interfaces.AccountStore {
	return m.accountStore
}

func (m *Manager) BalanceHistory() interfaces.BalanceHistoryStore {
	return m.historyStore
}

func (m *Manager) Prices() interfaces.PriceStore {
	return m.priceStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// isNotFoundError recognizes SurrealDB's not-found responses.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no record")
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
