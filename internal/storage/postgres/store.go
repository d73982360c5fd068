// Package postgres implements storage on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// Manager implements interfaces.StorageManager using PostgreSQL.
type Manager struct {
	pool   *pgxpool.Pool
	logger *common.Logger

	transactionStore *TransactionStore
	holdingStore     *HoldingStore
	accountStore     *AccountStore
	historyStore     *BalanceHistoryStore
	priceStore       *PriceStore
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		price_per_share NUMERIC NOT NULL,
		total_cost NUMERIC NOT NULL,
		transaction_date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, transaction_date, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_revisions (
		user_id TEXT PRIMARY KEY,
		revision BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		avg_cost_basis NUMERIC NOT NULL,
		total_cost NUMERIC NOT NULL,
		realized_gain NUMERIC NOT NULL,
		last_recalculated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		balance NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_history (
		account_id TEXT NOT NULL,
		date DATE NOT NULL,
		balance NUMERIC NOT NULL,
		source TEXT NOT NULL,
		substituted BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (account_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS price_quotes (
		symbol TEXT PRIMARY KEY,
		price NUMERIC NOT NULL,
		daily_change NUMERIC NOT NULL,
		daily_change_pct NUMERIC NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		fetched_at TIMESTAMPTZ NOT NULL,
		market_open_when_fetched BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_closes (
		symbol TEXT NOT NULL,
		date DATE NOT NULL,
		close NUMERIC NOT NULL,
		PRIMARY KEY (symbol, date)
	)`,
}

// NewManager connects to PostgreSQL and ensures the schema exists.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, config.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	for _, ddl := range schema {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	m := &Manager{
		pool:   pool,
		logger: logger,
	}
	m.transactionStore = &TransactionStore{pool: pool}
	m.holdingStore = &HoldingStore{pool: pool}
	m.accountStore = &AccountStore{pool: pool}
	m.historyStore = &BalanceHistoryStore{pool: pool}
	m.priceStore = &PriceStore{pool: pool}

	logger.Info().Msg("PostgreSQL storage manager initialized")
	return m, nil
}

func (m *Manager) Transactions() interfaces.TransactionStore { return m.transactionStore }

func (m *Manager) Holdings() interfaces.HoldingStore { return m.holdingStore }

func (m *Manager) Accounts() interfaces.AccountStore { return m.accountStore }

func (m *Manager) BalanceHistory() interfaces.BalanceHistoryStore { return m.historyStore }

func (m *Manager) Prices() interfaces.PriceStore { return m.priceStore }

func (m *Manager) Close() error {
	m.pool.Close()
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)

// TransactionStore persists the ledger with a per-user revision counter.
type TransactionStore struct {
	pool *pgxpool.Pool
}

func bumpRevision(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_revisions (user_id, revision) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET revision = ledger_revisions.revision + 1`,
		userID)
	return err
}

func (s *TransactionStore) Append(ctx context.Context, txn *models.Transaction) error {
	return s.mutate(ctx, txn.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, user_id, account_id, symbol, type, quantity, price_per_share, total_cost, transaction_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			txn.ID, txn.UserID, txn.AccountID, txn.Symbol, string(txn.Type),
			txn.Quantity, txn.PricePerShare, txn.TotalCost, txn.Date, txn.CreatedAt)
		return err
	})
}

// mutate runs fn and the revision bump in one transaction.
func (s *TransactionStore) mutate(ctx context.Context, userID string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := bumpRevision(ctx, tx, userID); err != nil {
		return fmt.Errorf("failed to bump ledger revision: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *TransactionStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, account_id, symbol, type, quantity, price_per_share, total_cost, transaction_date, created_at
		FROM transactions WHERE id = $1`, id)

	txn, err := scanTransaction(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var txn models.Transaction
	var txnType string
	if err := row.Scan(&txn.ID, &txn.UserID, &txn.AccountID, &txn.Symbol, &txnType,
		&txn.Quantity, &txn.PricePerShare, &txn.TotalCost, &txn.Date, &txn.CreatedAt); err != nil {
		return nil, err
	}
	txn.Type = models.TransactionType(txnType)
	txn.Date = models.DateOf(txn.Date)
	return &txn, nil
}

func (s *TransactionStore) List(ctx context.Context, userID, symbol string) ([]*models.Transaction, error) {
	sql := `
		SELECT id, user_id, account_id, symbol, type, quantity, price_per_share, total_cost, transaction_date, created_at
		FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if symbol != "" {
		sql += " AND symbol = $2"
		args = append(args, symbol)
	}
	sql += " ORDER BY transaction_date ASC, created_at ASC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (s *TransactionStore) Update(ctx context.Context, txn *models.Transaction) error {
	return s.mutate(ctx, txn.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE transactions
			SET symbol = $2, type = $3, quantity = $4, price_per_share = $5, total_cost = $6, transaction_date = $7
			WHERE id = $1`,
			txn.ID, txn.Symbol, string(txn.Type), txn.Quantity, txn.PricePerShare, txn.TotalCost, txn.Date)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (s *TransactionStore) Delete(ctx context.Context, id string) error {
	txn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, txn.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "DELETE FROM transactions WHERE id = $1", id)
		return err
	})
}

func (s *TransactionStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT user_id FROM transactions")
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func (s *TransactionStore) EarliestDate(ctx context.Context) (time.Time, error) {
	var date *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MIN(transaction_date) FROM transactions").Scan(&date); err != nil {
		return time.Time{}, fmt.Errorf("failed to find earliest transaction: %w", err)
	}
	if date == nil {
		return time.Time{}, models.ErrNotFound
	}
	return models.DateOf(*date), nil
}

func (s *TransactionStore) Revision(ctx context.Context, userID string) (int64, error) {
	var revision int64
	err := s.pool.QueryRow(ctx, "SELECT revision FROM ledger_revisions WHERE user_id = $1", userID).Scan(&revision)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger revision: %w", err)
	}
	return revision, nil
}

// HoldingStore persists derived holdings.
type HoldingStore struct {
	pool *pgxpool.Pool
}

func (s *HoldingStore) ReplaceAll(ctx context.Context, userID string, holdings []*models.Holding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM holdings WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear holdings: %w", err)
	}
	for _, h := range holdings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO holdings (user_id, symbol, quantity, avg_cost_basis, total_cost, realized_gain, last_recalculated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			userID, h.Symbol, h.Quantity, h.AvgCostBasis, h.TotalCost, h.RealizedGain, h.LastRecalculatedAt); err != nil {
			return fmt.Errorf("failed to insert holding: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *HoldingStore) List(ctx context.Context, userID string) ([]*models.Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, symbol, quantity, avg_cost_basis, total_cost, realized_gain, last_recalculated_at
		FROM holdings WHERE user_id = $1 ORDER BY symbol ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Quantity, &h.AvgCostBasis, &h.TotalCost, &h.RealizedGain, &h.LastRecalculatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, &h)
	}
	return holdings, rows.Err()
}

func (s *HoldingStore) Get(ctx context.Context, userID, symbol string) (*models.Holding, error) {
	var h models.Holding
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, symbol, quantity, avg_cost_basis, total_cost, realized_gain, last_recalculated_at
		FROM holdings WHERE user_id = $1 AND symbol = $2`, userID, symbol).
		Scan(&h.UserID, &h.Symbol, &h.Quantity, &h.AvgCostBasis, &h.TotalCost, &h.RealizedGain, &h.LastRecalculatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

// AccountStore persists accounts.
type AccountStore struct {
	pool *pgxpool.Pool
}

func (s *AccountStore) Save(ctx context.Context, account *models.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, user_id, name, type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = $3, type = $4, balance = $5`,
		account.ID, account.UserID, account.Name, string(account.Type), account.Balance, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *AccountStore) Get(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	var accountType string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, type, balance, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.Name, &accountType, &a.Balance, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.Type = models.AccountType(accountType)
	return &a, nil
}

func (s *AccountStore) List(ctx context.Context) ([]*models.Account, error) {
	return s.query(ctx, "SELECT id, user_id, name, type, balance, created_at FROM accounts ORDER BY created_at ASC")
}

func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	return s.query(ctx, "SELECT id, user_id, name, type, balance, created_at FROM accounts WHERE user_id = $1 ORDER BY created_at ASC", userID)
}

func (s *AccountStore) query(ctx context.Context, sql string, args ...any) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		var accountType string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &accountType, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = models.AccountType(accountType)
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// BalanceHistoryStore persists one row per (account, date).
type BalanceHistoryStore struct {
	pool *pgxpool.Pool
}

func (s *BalanceHistoryStore) SaveDay(ctx context.Context, date time.Time, records []*models.BalanceHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO balance_history (account_id, date, balance, source, substituted)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (account_id, date) DO UPDATE SET balance = $3, source = $4, substituted = $5`,
			record.AccountID, models.DateOf(date), record.Balance, string(record.Source), record.Substituted); err != nil {
			return fmt.Errorf("failed to save balance history record: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *BalanceHistoryStore) Get(ctx context.Context, accountID string, date time.Time) (*models.BalanceHistoryRecord, error) {
	var r models.BalanceHistoryRecord
	var source string
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, date, balance, source, substituted FROM balance_history
		WHERE account_id = $1 AND date = $2`, accountID, models.DateOf(date)).
		Scan(&r.AccountID, &r.Date, &r.Balance, &source, &r.Substituted)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance history record: %w", err)
	}
	r.Source = models.BalanceSource(source)
	r.Date = models.DateOf(r.Date)
	return &r, nil
}

func (s *BalanceHistoryStore) ListRange(ctx context.Context, accountID string, start, end time.Time) ([]*models.BalanceHistoryRecord, error) {
	return s.query(ctx, `
		SELECT account_id, date, balance, source, substituted FROM balance_history
		WHERE account_id = $1 AND date >= $2 AND date <= $3 ORDER BY date ASC`,
		accountID, models.DateOf(start), models.DateOf(end))
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
	tag, err := s.pool.Exec(ctx, "DELETE FROM balance_history WHERE date >= $1", models.DateOf(date))
	if err != nil {
		return 0, fmt.Errorf("failed to delete balance history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *BalanceHistoryStore) query(ctx context.Context, sql string, args ...any) ([]*models.BalanceHistoryRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance history: %w", err)
	}
	defer rows.Close()

	var records []*models.BalanceHistoryRecord
	for rows.Next() {
		var r models.BalanceHistoryRecord
		var source string
		if err := rows.Scan(&r.AccountID, &r.Date, &r.Balance, &source, &r.Substituted); err != nil {
			return nil, err
		}
		r.Source = models.BalanceSource(source)
		r.Date = models.DateOf(r.Date)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// PriceStore is the durable quote mirror and historical close cache.
type PriceStore struct {
	pool *pgxpool.Pool
}

func (s *PriceStore) SaveQuote(ctx context.Context, quote *models.PriceQuote) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_quotes (symbol, price, daily_change, daily_change_pct, company_name, fetched_at, market_open_when_fetched)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET price = $2, daily_change = $3, daily_change_pct = $4, company_name = $5, fetched_at = $6, market_open_when_fetched = $7`,
		quote.Symbol, quote.Price, quote.DailyChange, quote.DailyChangePct, quote.CompanyName, quote.FetchedAt, quote.MarketOpenWhenFetched)
	if err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	return nil
}

func (s *PriceStore) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, price, daily_change, daily_change_pct, company_name, fetched_at, market_open_when_fetched
		FROM price_quotes WHERE symbol = ANY($1)`, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}
	defer rows.Close()

	quotes := make(map[string]*models.PriceQuote, len(symbols))
	for rows.Next() {
		var q models.PriceQuote
		if err := rows.Scan(&q.Symbol, &q.Price, &q.DailyChange, &q.DailyChangePct, &q.CompanyName, &q.FetchedAt, &q.MarketOpenWhenFetched); err != nil {
			return nil, err
		}
		quotes[q.Symbol] = &q
	}
	return quotes, rows.Err()
}

func (s *PriceStore) SaveDailyCloses(ctx context.Context, closes []*models.DailyClose) error {
	for _, close := range closes {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO daily_closes (symbol, date, close) VALUES ($1, $2, $3)
			ON CONFLICT (symbol, date) DO UPDATE SET close = $3`,
			close.Symbol, models.DateOf(close.Date), close.Close); err != nil {
			return fmt.Errorf("failed to save daily close: %w", err)
		}
	}
	return nil
}

func (s *PriceStore) GetDailyClose(ctx context.Context, symbol string, date time.Time) (*models.DailyClose, error) {
	var c models.DailyClose
	err := s.pool.QueryRow(ctx, `
		SELECT symbol, date, close FROM daily_closes WHERE symbol = $1 AND date = $2`,
		symbol, models.DateOf(date)).Scan(&c.Symbol, &c.Date, &c.Close)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily close: %w", err)
	}
	c.Date = models.DateOf(c.Date)
	return &c, nil
}

func (s *PriceStore) LatestCloseOnOrBefore(ctx context.Context, symbol string, date time.Time) (*models.DailyClose, error) {
	var c models.DailyClose
	err := s.pool.QueryRow(ctx, `
		SELECT symbol, date, close FROM daily_closes
		WHERE symbol = $1 AND date <= $2 ORDER BY date DESC LIMIT 1`,
		symbol, models.DateOf(date)).Scan(&c.Symbol, &c.Date, &c.Close)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest close: %w", err)
	}
	c.Date = models.DateOf(c.Date)
	return &c, nil
}

func (s *PriceStore) LatestCloseDate(ctx context.Context, symbol string) (time.Time, error) {
	var date *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(date) FROM daily_closes WHERE symbol = $1", symbol).Scan(&date); err != nil {
		return time.Time{}, fmt.Errorf("failed to find latest close date: %w", err)
	}
	if date == nil {
		return time.Time{}, models.ErrNotFound
	}
	return models.DateOf(*date), nil
}
