// Package memory provides an in-process StorageManager used by tests and
// development mode. Semantics (ordering, uniqueness, atomic day writes)
// match the durable backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// Manager implements interfaces.StorageManager with in-memory maps.
type Manager struct {
	transactions *TransactionStore
	holdings     *HoldingStore
	accounts     *AccountStore
	history      *BalanceHistoryStore
	prices       *PriceStore
}

// NewManager creates an empty in-memory storage manager.
func NewManager() *Manager {
	return &Manager{
		transactions: &TransactionStore{
			byID:      make(map[string]*models.Transaction),
			revisions: make(map[string]int64),
		},
		holdings: &HoldingStore{byUser: make(map[string]map[string]*models.Holding)},
		accounts: &AccountStore{byID: make(map[string]*models.Account)},
		history:  &BalanceHistoryStore{rows: make(map[string]*models.BalanceHistoryRecord)},
		prices: &PriceStore{
			quotes: make(map[string]*models.PriceQuote),
			closes: make(map[string]map[string]*models.DailyClose),
		},
	}
}

func (m *Manager) Transactions() interfaces.TransactionStore      { return m.transactions }
func (m *Manager) Holdings() interfaces.HoldingStore              { return m.holdings }
func (m *Manager) Accounts() interfaces.AccountStore              { return m.accounts }
func (m *Manager) BalanceHistory() interfaces.BalanceHistoryStore { return m.history }
func (m *Manager) Prices() interfaces.PriceStore                  { return m.prices }

func (m *Manager) Close() error { return nil }

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)

// --- TransactionStore ---

type TransactionStore struct {
	mu        sync.RWMutex
	byID      map[string]*models.Transaction
	revisions map[string]int64
}

func (s *TransactionStore) Append(_ context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *txn
	s.byID[txn.ID] = &cp
	s.revisions[txn.UserID]++
	return nil
}

func (s *TransactionStore) Get(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *TransactionStore) List(_ context.Context, userID, symbol string) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Transaction
	for _, txn := range s.byID {
		if txn.UserID != userID {
			continue
		}
		if symbol != "" && txn.Symbol != symbol {
			continue
		}
		cp := *txn
		out = append(out, &cp)
	}
	models.SortTransactions(out)
	return out, nil
}

func (s *TransactionStore) Update(_ context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[txn.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *txn
	s.byID[txn.ID] = &cp
	s.revisions[txn.UserID]++
	return nil
}

func (s *TransactionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(s.byID, id)
	s.revisions[txn.UserID]++
	return nil
}

func (s *TransactionStore) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var users []string
	for _, txn := range s.byID {
		if !seen[txn.UserID] {
			seen[txn.UserID] = true
			users = append(users, txn.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *TransactionStore) EarliestDate(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var earliest time.Time
	for _, txn := range s.byID {
		if earliest.IsZero() || txn.Date.Before(earliest) {
			earliest = txn.Date
		}
	}
	if earliest.IsZero() {
		return time.Time{}, models.ErrNotFound
	}
	return earliest, nil
}

func (s *TransactionStore) Revision(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revisions[userID], nil
}

// --- HoldingStore ---

type HoldingStore struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*models.Holding
}

func (s *HoldingStore) ReplaceAll(_ context.Context, userID string, holdings []*models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]*models.Holding, len(holdings))
	for _, h := range holdings {
		cp := *h
		set[h.Symbol] = &cp
	}
	s.byUser[userID] = set
	return nil
}

func (s *HoldingStore) List(_ context.Context, userID string) ([]*models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Holding
	for _, h := range s.byUser[userID] {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *HoldingStore) Get(_ context.Context, userID, symbol string) (*models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byUser[userID][symbol]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

// --- AccountStore ---

type AccountStore struct {
	mu   sync.RWMutex
	byID map[string]*models.Account
}

func (s *AccountStore) Save(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	s.byID[account.ID] = &cp
	return nil
}

func (s *AccountStore) Get(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *AccountStore) List(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Account
	for _, a := range s.byID {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *AccountStore) ListByUser(_ context.Context, userID string) ([]*models.Account, error) {
	all, _ := s.List(context.Background())
	var out []*models.Account
	for _, a := range all {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- BalanceHistoryStore ---

type BalanceHistoryStore struct {
	mu   sync.RWMutex
	rows map[string]*models.BalanceHistoryRecord // key accountID|date
}

func historyKey(accountID string, date time.Time) string {
	return accountID + "|" + models.DateString(date)
}

func (s *BalanceHistoryStore) SaveDay(_ context.Context, date time.Time, records []*models.BalanceHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Single lock acquisition makes the whole day's write atomic for readers.
	for _, r := range records {
		cp := *r
		cp.Date = models.DateOf(date)
		s.rows[historyKey(r.AccountID, date)] = &cp
	}
	return nil
}

func (s *BalanceHistoryStore) Get(_ context.Context, accountID string, date time.Time) (*models.BalanceHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[historyKey(accountID, date)]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *BalanceHistoryStore) ListRange(_ context.Context, accountID string, start, end time.Time) ([]*models.BalanceHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(r *models.BalanceHistoryRecord) bool {
		return r.AccountID == accountID && inRange(r.Date, start, end)
	}), nil
}

func (s *BalanceHistoryStore) listLocked(match func(*models.BalanceHistoryRecord) bool) []*models.BalanceHistoryRecord {
	var out []*models.BalanceHistoryRecord
	for _, r := range s.rows {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

func inRange(d, start, end time.Time) bool {
	return !d.Before(models.DateOf(start)) && !d.After(models.DateOf(end))
}

func (s *BalanceHistoryStore) ExistingDates(_ context.Context, accountID string, start, end time.Time) (map[string]models.BalanceSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.BalanceSource)
	for _, r := range s.rows {
		if r.AccountID == accountID && inRange(r.Date, start, end) {
			out[models.DateString(r.Date)] = r.Source
		}
	}
	return out, nil
}

func (s *BalanceHistoryStore) DeleteFrom(_ context.Context, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := models.DateOf(date)
	count := 0
	for key, r := range s.rows {
		if !r.Date.Before(cutoff) {
			delete(s.rows, key)
			count++
		}
	}
	return count, nil
}

// --- PriceStore ---

type PriceStore struct {
	mu     sync.RWMutex
	quotes map[string]*models.PriceQuote
	closes map[string]map[string]*models.DailyClose // symbol -> date -> close
}

func (s *PriceStore) SaveQuote(_ context.Context, quote *models.PriceQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *quote
	s.quotes[quote.Symbol] = &cp
	return nil
}

func (s *PriceStore) GetQuotes(_ context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.PriceQuote)
	for _, symbol := range symbols {
		if q, ok := s.quotes[symbol]; ok {
			cp := *q
			out[symbol] = &cp
		}
	}
	return out, nil
}

func (s *PriceStore) SaveDailyCloses(_ context.Context, closes []*models.DailyClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range closes {
		if s.closes[c.Symbol] == nil {
			s.closes[c.Symbol] = make(map[string]*models.DailyClose)
		}
		cp := *c
		cp.Date = models.DateOf(c.Date)
		s.closes[c.Symbol][models.DateString(c.Date)] = &cp
	}
	return nil
}

func (s *PriceStore) GetDailyClose(_ context.Context, symbol string, date time.Time) (*models.DailyClose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.closes[symbol][models.DateString(date)]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *PriceStore) LatestCloseOnOrBefore(_ context.Context, symbol string, date time.Time) (*models.DailyClose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target := models.DateOf(date)
	var best *models.DailyClose
	for _, c := range s.closes[symbol] {
		if c.Date.After(target) {
			continue
		}
		if best == nil || c.Date.After(best.Date) {
			best = c
		}
	}
	if best == nil {
		return nil, models.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *PriceStore) LatestCloseDate(_ context.Context, symbol string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, c := range s.closes[symbol] {
		if c.Date.After(latest) {
			latest = c.Date
		}
	}
	if latest.IsZero() {
		return time.Time{}, models.ErrNotFound
	}
	return latest, nil
}
