// Package valuation composes holdings, prices, and balance history into
// caller-facing portfolio views.
package valuation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// Ensure Service implements ValuationService
var _ interfaces.ValuationService = (*Service)(nil)

var hundred = decimal.NewFromInt(100)

// priceDeadline bounds how long a summary read waits on price refreshes.
// Past it the cache serves last-known values marked stale.
const priceDeadline = 5 * time.Second

// Service builds portfolio summaries and performance series.
type Service struct {
	storage  interfaces.StorageManager
	holdings interfaces.HoldingsService
	prices   interfaces.PriceService
	snapshot interfaces.SnapshotService
	logger   *common.Logger
	now      func() time.Time
}

// NewService creates a new valuation service.
func NewService(storage interfaces.StorageManager, holdingsSvc interfaces.HoldingsService, prices interfaces.PriceService, snapshotSvc interfaces.SnapshotService, logger *common.Logger) *Service {
	return &Service{
		storage:  storage,
		holdings: holdingsSvc,
		prices:   prices,
		snapshot: snapshotSvc,
		logger:   logger,
		now:      time.Now,
	}
}

// Summary values the user's current holdings against the price cache.
func (s *Service) Summary(ctx context.Context, userID string) (*models.PortfolioSummary, error) {
	held, err := s.holdings.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}

	summary := &models.PortfolioSummary{
		UserID:      userID,
		GeneratedAt: s.now(),
		Positions:   []models.PositionValue{},
		MarketOpen:  s.prices.MarketOpen(),
	}
	if len(held) == 0 {
		return summary, nil
	}

	symbols := make([]string, 0, len(held))
	for _, h := range held {
		symbols = append(symbols, h.Symbol)
	}
	priceCtx, cancel := context.WithTimeout(ctx, priceDeadline)
	defer cancel()
	quotes, err := s.prices.GetPrices(priceCtx, symbols)
	if err != nil && len(quotes) == 0 {
		return nil, err
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("Serving partial summary; some prices unavailable")
	}

	for _, h := range held {
		quote := quotes[h.Symbol]
		if quote == nil {
			// No value at all for this symbol. The rest of the portfolio
			// still renders; the priceless position is flagged and carries
			// no market value.
			summary.StalePrices = true
			summary.Positions = append(summary.Positions, models.PositionValue{
				Symbol:       h.Symbol,
				Quantity:     h.Quantity,
				AvgCostBasis: h.AvgCostBasis,
				TotalCost:    h.TotalCost,
				RealizedGain: h.RealizedGain,
				PriceStale:   true,
			})
			summary.TotalCost = summary.TotalCost.Add(h.TotalCost)
			summary.RealizedGain = summary.RealizedGain.Add(h.RealizedGain)
			continue
		}

		value := h.MarketValue(quote.Price)
		unrealized := value.Sub(h.TotalCost)

		pos := models.PositionValue{
			Symbol:         h.Symbol,
			CompanyName:    quote.CompanyName,
			Quantity:       h.Quantity,
			AvgCostBasis:   h.AvgCostBasis,
			TotalCost:      h.TotalCost,
			CurrentPrice:   quote.Price,
			MarketValue:    value,
			UnrealizedGain: unrealized,
			RealizedGain:   h.RealizedGain,
			DailyChange:    quote.DailyChange,
			DailyChangePct: quote.DailyChangePct,
			PriceFetchedAt: quote.FetchedAt,
			PriceStale:     quote.Stale,
		}
		if h.TotalCost.IsPositive() {
			pos.UnrealizedGainPct = unrealized.Div(h.TotalCost).Mul(hundred)
		}

		summary.Positions = append(summary.Positions, pos)
		summary.TotalCost = summary.TotalCost.Add(h.TotalCost)
		summary.CurrentValue = summary.CurrentValue.Add(value)
		summary.UnrealizedGain = summary.UnrealizedGain.Add(unrealized)
		summary.RealizedGain = summary.RealizedGain.Add(h.RealizedGain)
		if quote.Stale {
			summary.StalePrices = true
		}
	}

	summary.TotalPositions = len(summary.Positions)
	if summary.TotalCost.IsPositive() {
		summary.UnrealizedGainPct = summary.UnrealizedGain.Div(summary.TotalCost).Mul(hundred)
	}
	for i := range summary.Positions {
		if summary.CurrentValue.IsPositive() {
			summary.Positions[i].Weight = summary.Positions[i].MarketValue.Div(summary.CurrentValue).Mul(hundred)
		}
	}

	// Largest positions first.
	sort.Slice(summary.Positions, func(i, j int) bool {
		return summary.Positions[i].MarketValue.GreaterThan(summary.Positions[j].MarketValue)
	})

	return summary, nil
}

// DetailedSummary extends Summary with composition statistics.
func (s *Service) DetailedSummary(ctx context.Context, userID string) (*models.DetailedSummary, error) {
	summary, err := s.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}

	detailed := &models.DetailedSummary{PortfolioSummary: *summary}
	if len(summary.Positions) == 0 {
		return detailed, nil
	}

	// Positions are already sorted by market value descending.
	detailed.LargestPosition = summary.Positions[0].MarketValue
	detailed.SmallestPosition = summary.Positions[len(summary.Positions)-1].MarketValue
	detailed.AveragePositionSize = summary.CurrentValue.Div(decimal.NewFromInt(int64(len(summary.Positions))))

	return detailed, nil
}

// Performance returns the user's balance-history series for the period and
// the change between its first and last records. Missing days at the start
// of the period are reconstructed on demand.
func (s *Service) Performance(ctx context.Context, userID, period string) (*models.PerformanceReport, error) {
	end := models.DateOf(s.now())
	start, err := periodStart(period, s.now())
	if err != nil {
		return nil, err
	}

	accounts, err := s.storage.Accounts().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	if start.IsZero() {
		start, err = s.earliestActivity(ctx, userID, accounts)
		if err != nil {
			if err == models.ErrNotFound {
				return &models.PerformanceReport{UserID: userID, Period: period, StartDate: end, EndDate: end}, nil
			}
			return nil, err
		}
	}

	points, err := s.series(ctx, accounts, start, end)
	if err != nil {
		return nil, err
	}

	// A period whose start predates the stored history gets a one-off
	// reconstruction so the report does not silently shrink.
	if len(points) == 0 || points[0].Date.After(start) {
		if _, err := s.snapshot.Backfill(ctx, start, end); err != nil {
			s.logger.Warn().Err(err).Str("period", period).Msg("On-demand backfill failed")
		} else {
			points, err = s.series(ctx, accounts, start, end)
			if err != nil {
				return nil, err
			}
		}
	}

	report := &models.PerformanceReport{
		UserID:    userID,
		Period:    period,
		StartDate: start,
		EndDate:   end,
		Points:    points,
	}
	if len(points) >= 2 {
		first, last := points[0].Balance, points[len(points)-1].Balance
		report.Change = last.Sub(first)
		if first.IsPositive() {
			report.ChangePct = report.Change.Div(first).Mul(hundred)
		}
	}

	return report, nil
}

// series sums the user's per-account history rows into one point per day.
func (s *Service) series(ctx context.Context, accounts []*models.Account, start, end time.Time) ([]models.HistoryPoint, error) {
	byDay := make(map[string]decimal.Decimal)
	for _, account := range accounts {
		rows, err := s.storage.BalanceHistory().ListRange(ctx, account.ID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load balance history: %w", err)
		}
		for _, row := range rows {
			key := models.DateString(row.Date)
			byDay[key] = byDay[key].Add(row.Balance)
		}
	}

	var points []models.HistoryPoint
	for _, day := range models.DaysBetween(start, end) {
		if balance, ok := byDay[models.DateString(day)]; ok {
			points = append(points, models.HistoryPoint{Date: day, Balance: balance})
		}
	}
	return points, nil
}

// earliestActivity finds the user's first ledger date or account creation,
// whichever is older. Returns models.ErrNotFound when the user has nothing.
func (s *Service) earliestActivity(ctx context.Context, userID string, accounts []*models.Account) (time.Time, error) {
	txns, err := s.storage.Transactions().List(ctx, userID, "")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to list transactions: %w", err)
	}

	var start time.Time
	found := false
	for _, txn := range txns {
		day := models.DateOf(txn.Date)
		if !found || day.Before(start) {
			start = day
			found = true
		}
	}
	for _, account := range accounts {
		day := models.DateOf(account.CreatedAt)
		if !found || day.Before(start) {
			start = day
			found = true
		}
	}

	if !found {
		return time.Time{}, models.ErrNotFound
	}
	return start, nil
}
