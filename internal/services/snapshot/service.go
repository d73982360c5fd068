// Package snapshot reconstructs daily account balances from the ledger and
// the historical close cache.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
	"github.com/sgrimes/folio/internal/services/holdings"
)

// Ensure Service implements SnapshotService
var _ interfaces.SnapshotService = (*Service)(nil)

// closeLookbackDays bounds the carry-forward search for a close on
// non-trading days. A week covers any weekend plus holiday cluster.
const closeLookbackDays = 7

// Service values each account at end of day and writes one balance history
// row per (account, date). Stock accounts are valued by replaying the ledger
// up to the date and pricing each position at that day's close; manual
// accounts carry their balance directly.
type Service struct {
	storage interfaces.StorageManager
	client  interfaces.MarketDataClient
	clock   *common.MarketClock
	logger  *common.Logger
	now     func() time.Time

	jobs interfaces.JobManager
}

// NewService creates a new snapshot service.
func NewService(storage interfaces.StorageManager, client interfaces.MarketDataClient, clock *common.MarketClock, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		client:  client,
		clock:   clock,
		logger:  logger,
		now:     time.Now,
	}
}

// SetJobManager wires the background queue used by InvalidateFrom. Without
// one, invalidated ranges are rebuilt synchronously.
func (s *Service) SetJobManager(jobs interfaces.JobManager) {
	s.jobs = jobs
}

// CreateForDate writes one balance record per account for the date. Today's
// rows may be rewritten as the day progresses; rows for past dates are
// immutable and left untouched. Returns the number of records written.
func (s *Service) CreateForDate(ctx context.Context, date time.Time) (int, error) {
	skip, err := s.immutableRows(ctx, date)
	if err != nil {
		return 0, err
	}
	return s.createForDate(ctx, date, models.BalanceComputed, skip)
}

// immutableRows returns the accounts that already hold a row for the date,
// when the date lies in the past.
func (s *Service) immutableRows(ctx context.Context, date time.Time) (map[string]bool, error) {
	date = models.DateOf(date)
	if !date.Before(models.DateOf(s.now())) {
		return nil, nil
	}

	accounts, err := s.storage.Accounts().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	skip := make(map[string]bool)
	for _, account := range accounts {
		dates, err := s.storage.BalanceHistory().ExistingDates(ctx, account.ID, date, date)
		if err != nil {
			return nil, fmt.Errorf("failed to list existing history: %w", err)
		}
		if _, ok := dates[models.DateString(date)]; ok {
			skip[account.ID] = true
		}
	}
	return skip, nil
}

// createForDate values every account for the date and writes the day in one
// atomic batch. When skip is non-nil, accounts whose ID maps to true are
// left untouched.
func (s *Service) createForDate(ctx context.Context, date time.Time, source models.BalanceSource, skip map[string]bool) (int, error) {
	date = models.DateOf(date)

	accounts, err := s.storage.Accounts().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	var records []*models.BalanceHistoryRecord
	for _, account := range accounts {
		if skip[account.ID] {
			continue
		}
		if models.DateOf(account.CreatedAt).After(date) {
			continue
		}

		balance, substituted, err := s.valueAccount(ctx, account, date)
		if err != nil {
			return 0, err
		}

		records = append(records, &models.BalanceHistoryRecord{
			AccountID:   account.ID,
			Date:        date,
			Balance:     balance,
			Source:      source,
			Substituted: substituted,
		})
	}

	if len(records) == 0 {
		return 0, nil
	}

	if err := s.storage.BalanceHistory().SaveDay(ctx, date, records); err != nil {
		return 0, fmt.Errorf("failed to save balance history for %s: %w", models.DateString(date), err)
	}

	s.logger.Debug().
		Str("date", models.DateString(date)).
		Int("records", len(records)).
		Str("source", string(source)).
		Msg("Balance snapshot written")

	return len(records), nil
}

// valueAccount computes one account's end-of-day balance. The second return
// reports whether any position was priced with a carried-forward close.
func (s *Service) valueAccount(ctx context.Context, account *models.Account, date time.Time) (decimal.Decimal, bool, error) {
	if account.Type == models.AccountManual {
		return account.Balance, false, nil
	}

	txns, err := s.storage.Transactions().List(ctx, account.UserID, "")
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to list transactions: %w", err)
	}

	// Transactions recorded against another account do not value this one.
	owned := txns[:0:0]
	for _, txn := range txns {
		if txn.AccountID == "" || txn.AccountID == account.ID {
			owned = append(owned, txn)
		}
	}

	set, err := holdings.ReplayAsOf(owned, date)
	if err != nil {
		return decimal.Zero, false, err
	}

	total := decimal.Zero
	substituted := false
	for symbol, holding := range set {
		close, carried, err := s.closeForDate(ctx, symbol, date)
		if err != nil {
			return decimal.Zero, false, err
		}
		if carried {
			substituted = true
		}
		total = total.Add(holding.MarketValue(close))
	}
	return total, substituted, nil
}

// closeForDate resolves the closing price used to value a position on the
// given date. The cached close is preferred; on a miss the provider is asked
// for the surrounding range, and when the date has no close at all (weekend,
// holiday) the most recent earlier close within the lookback window is
// carried forward. The second return reports a carried-forward close.
func (s *Service) closeForDate(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	prices := s.storage.Prices()

	if close, err := prices.GetDailyClose(ctx, symbol, date); err == nil && close != nil {
		return close.Close, false, nil
	}

	// The provider is only worth asking when the date had a session and the
	// mirror does not already extend past it.
	needFetch := !s.clock.LastTradingDay(date.Add(24*time.Hour - time.Minute)).Before(date)
	if needFetch {
		if latest, err := prices.LatestCloseDate(ctx, symbol); err == nil && !latest.Before(date) {
			needFetch = false
		}
	}

	from := date.AddDate(0, 0, -closeLookbackDays)
	var err error
	if needFetch {
		var fetched []*models.DailyClose
		fetched, err = s.client.GetDailyCloses(ctx, symbol, from, date)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Historical close fetch failed")
		} else if len(fetched) > 0 {
			if saveErr := prices.SaveDailyCloses(ctx, fetched); saveErr != nil {
				return decimal.Zero, false, fmt.Errorf("failed to cache daily closes: %w", saveErr)
			}
		}

		if close, getErr := prices.GetDailyClose(ctx, symbol, date); getErr == nil && close != nil {
			return close.Close, false, nil
		}
	}

	carried, lookErr := prices.LatestCloseOnOrBefore(ctx, symbol, date)
	if lookErr == nil && carried != nil && !carried.Date.Before(from) {
		s.logger.Debug().
			Str("symbol", symbol).
			Str("date", models.DateString(date)).
			Str("substituted", models.DateString(carried.Date)).
			Msg("Carried forward prior close for non-trading day")
		return carried.Close, true, nil
	}

	return decimal.Zero, false, &models.PriceUnavailableError{Symbol: symbol, Cause: err}
}

// Backfill reconstructs each day in the inclusive range, writing rows only
// for account-days that have none. Re-running over the same range is a
// no-op, and cancellation between days leaves a clean prefix.
func (s *Service) Backfill(ctx context.Context, start, end time.Time) (int, error) {
	start, end = models.DateOf(start), models.DateOf(end)
	today := models.DateOf(s.now())
	if end.After(today) {
		end = today
	}

	accounts, err := s.storage.Accounts().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	// One existing-dates lookup per account covers the whole range.
	existing := make(map[string]map[string]models.BalanceSource, len(accounts))
	for _, account := range accounts {
		dates, err := s.storage.BalanceHistory().ExistingDates(ctx, account.ID, start, end)
		if err != nil {
			return 0, fmt.Errorf("failed to list existing history: %w", err)
		}
		existing[account.ID] = dates
	}

	written := 0
	for _, day := range models.DaysBetween(start, end) {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		key := models.DateString(day)
		skip := make(map[string]bool, len(accounts))
		pending := false
		for _, account := range accounts {
			if _, ok := existing[account.ID][key]; ok {
				skip[account.ID] = true
				continue
			}
			pending = true
		}
		if !pending {
			continue
		}

		n, err := s.createForDate(ctx, day, models.BalanceBackfilled, skip)
		if err != nil {
			return written, err
		}
		written += n
	}

	if written > 0 {
		s.logger.Info().
			Str("start", models.DateString(start)).
			Str("end", models.DateString(end)).
			Int("records", written).
			Msg("Balance history backfilled")
	}

	return written, nil
}

// FillMissing discovers gaps between each account's first activity and today
// and reconstructs them.
func (s *Service) FillMissing(ctx context.Context) (int, error) {
	start, err := s.historyStart(ctx)
	if err != nil {
		if err == models.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return s.Backfill(ctx, start, s.now())
}

// historyStart returns the earliest date any history row could exist for:
// the older of the oldest ledger entry and the oldest account.
func (s *Service) historyStart(ctx context.Context) (time.Time, error) {
	start, err := s.storage.Transactions().EarliestDate(ctx)
	if err != nil && err != models.ErrNotFound {
		return time.Time{}, fmt.Errorf("failed to find earliest transaction: %w", err)
	}
	found := err == nil

	accounts, listErr := s.storage.Accounts().List(ctx)
	if listErr != nil {
		return time.Time{}, fmt.Errorf("failed to list accounts: %w", listErr)
	}
	for _, account := range accounts {
		created := models.DateOf(account.CreatedAt)
		if !found || created.Before(start) {
			start = created
			found = true
		}
	}

	if !found {
		return time.Time{}, models.ErrNotFound
	}
	return models.DateOf(start), nil
}

// InvalidateFrom drops history rows dated on or after the given date and
// schedules their reconstruction. With no job manager wired the rebuild runs
// inline.
func (s *Service) InvalidateFrom(ctx context.Context, date time.Time) error {
	date = models.DateOf(date)

	deleted, err := s.storage.BalanceHistory().DeleteFrom(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to delete balance history: %w", err)
	}

	s.logger.Info().
		Str("from", models.DateString(date)).
		Int("deleted", deleted).
		Msg("Balance history invalidated")

	if s.jobs != nil {
		s.jobs.Submit(&models.Job{
			ID:        uuid.New().String(),
			Type:      models.JobTypeSnapshotBackfill,
			StartDate: date,
			EndDate:   models.DateOf(s.now()),
			Status:    models.JobStatusPending,
			CreatedAt: s.now(),
		})
		return nil
	}

	_, err = s.Backfill(ctx, date, s.now())
	return err
}
