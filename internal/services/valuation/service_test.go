package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/models"
	"github.com/sgrimes/folio/internal/storage/memory"
)

// fakePrices serves fixed quotes.
type fakePrices struct {
	quotes map[string]*models.PriceQuote
	open   bool
}

func (p *fakePrices) GetPrices(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	out := make(map[string]*models.PriceQuote)
	var missing error
	for _, s := range symbols {
		if q, ok := p.quotes[s]; ok {
			out[s] = q
			continue
		}
		if missing == nil {
			missing = &models.PriceUnavailableError{Symbol: s}
		}
	}
	return out, missing
}

func (p *fakePrices) Refresh(ctx context.Context, symbols []string) error { return nil }

func (p *fakePrices) MarketOpen() bool { return p.open }

// fakeSnapshot records Backfill calls and optionally writes rows.
type fakeSnapshot struct {
	store      *memory.Manager
	backfills  int
	onBackfill func(ctx context.Context, start, end time.Time)
}

func (s *fakeSnapshot) CreateForDate(ctx context.Context, date time.Time) (int, error) {
	return 0, nil
}

func (s *fakeSnapshot) Backfill(ctx context.Context, start, end time.Time) (int, error) {
	s.backfills++
	if s.onBackfill != nil {
		s.onBackfill(ctx, start, end)
	}
	return 0, nil
}

func (s *fakeSnapshot) FillMissing(ctx context.Context) (int, error) { return 0, nil }

func (s *fakeSnapshot) InvalidateFrom(ctx context.Context, date time.Time) error { return nil }

// fakeHoldings serves a fixed holding set.
type fakeHoldings struct {
	holdings []*models.Holding
}

func (h *fakeHoldings) Recalculate(ctx context.Context, userID string) (map[string]*models.Holding, error) {
	return nil, nil
}

func (h *fakeHoldings) Holdings(ctx context.Context, userID string) ([]*models.Holding, error) {
	return h.holdings, nil
}

func holding(symbol string, qty, avgCost float64) *models.Holding {
	q := decimal.NewFromFloat(qty)
	avg := decimal.NewFromFloat(avgCost)
	return &models.Holding{
		UserID:       "u1",
		Symbol:       symbol,
		Quantity:     q,
		AvgCostBasis: avg,
		TotalCost:    q.Mul(avg),
	}
}

func quote(symbol string, price float64) *models.PriceQuote {
	return &models.PriceQuote{Symbol: symbol, Price: decimal.NewFromFloat(price)}
}

func day(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(store *memory.Manager, held []*models.Holding, quotes map[string]*models.PriceQuote, now time.Time) (*Service, *fakeSnapshot) {
	snap := &fakeSnapshot{store: store}
	svc := NewService(store, &fakeHoldings{holdings: held}, &fakePrices{quotes: quotes, open: true}, snap, common.NewSilentLogger())
	svc.now = func() time.Time { return now }
	return svc, snap
}

func TestSummary_TotalsAndWeights(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store,
		[]*models.Holding{holding("AAPL", 10, 100), holding("MSFT", 2, 300)},
		map[string]*models.PriceQuote{"AAPL": quote("AAPL", 150), "MSFT": quote("MSFT", 250)},
		day(10))

	summary, err := svc.Summary(context.Background(), "u1")
	require.NoError(t, err)

	require.Equal(t, 2, summary.TotalPositions)
	// 10*150 + 2*250 = 2000
	require.True(t, summary.CurrentValue.Equal(decimal.NewFromInt(2000)))
	// 10*100 + 2*300 = 1600
	require.True(t, summary.TotalCost.Equal(decimal.NewFromInt(1600)))
	require.True(t, summary.UnrealizedGain.Equal(decimal.NewFromInt(400)))
	// 400/1600 = 25%
	require.True(t, summary.UnrealizedGainPct.Equal(decimal.NewFromInt(25)))

	// Positions sorted by market value descending: AAPL (1500) first.
	require.Equal(t, "AAPL", summary.Positions[0].Symbol)
	require.True(t, summary.Positions[0].Weight.Equal(decimal.NewFromInt(75)))
	require.True(t, summary.Positions[1].Weight.Equal(decimal.NewFromInt(25)))
}

func TestSummary_EmptyPortfolio(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store, nil, nil, day(10))

	summary, err := svc.Summary(context.Background(), "u1")
	require.NoError(t, err)
	require.Zero(t, summary.TotalPositions)
	require.Empty(t, summary.Positions)
	require.True(t, summary.CurrentValue.IsZero())
}

func TestSummary_StalePriceFlag(t *testing.T) {
	store := memory.NewManager()
	stale := quote("AAPL", 150)
	stale.Stale = true
	svc, _ := newTestService(store,
		[]*models.Holding{holding("AAPL", 10, 100)},
		map[string]*models.PriceQuote{"AAPL": stale},
		day(10))

	summary, err := svc.Summary(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, summary.StalePrices)
	require.True(t, summary.Positions[0].PriceStale)
}

func TestSummary_RendersRemainingWhenPriceMissing(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store,
		[]*models.Holding{holding("AAPL", 10, 100), holding("NEWCO", 5, 20)},
		map[string]*models.PriceQuote{"AAPL": quote("AAPL", 150)},
		day(10))

	summary, err := svc.Summary(context.Background(), "u1")
	require.NoError(t, err)

	// Both positions render; only the priced one contributes market value.
	require.Equal(t, 2, summary.TotalPositions)
	require.True(t, summary.StalePrices)
	require.True(t, summary.CurrentValue.Equal(decimal.NewFromInt(1500)))
	// 10*100 + 5*20 = 1100
	require.True(t, summary.TotalCost.Equal(decimal.NewFromInt(1100)))

	last := summary.Positions[len(summary.Positions)-1]
	require.Equal(t, "NEWCO", last.Symbol)
	require.True(t, last.PriceStale)
	require.True(t, last.MarketValue.IsZero())
}

func TestSummary_PriceUnavailableForOnlyPosition(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store,
		[]*models.Holding{holding("NEWCO", 5, 20)},
		nil,
		day(10))

	_, err := svc.Summary(context.Background(), "u1")

	var unavailable *models.PriceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, "NEWCO", unavailable.Symbol)
}

func TestDetailedSummary_CompositionStats(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store,
		[]*models.Holding{holding("AAPL", 10, 100), holding("MSFT", 2, 300)},
		map[string]*models.PriceQuote{"AAPL": quote("AAPL", 150), "MSFT": quote("MSFT", 250)},
		day(10))

	detailed, err := svc.DetailedSummary(context.Background(), "u1")
	require.NoError(t, err)

	require.True(t, detailed.LargestPosition.Equal(decimal.NewFromInt(1500)))
	require.True(t, detailed.SmallestPosition.Equal(decimal.NewFromInt(500)))
	require.True(t, detailed.AveragePositionSize.Equal(decimal.NewFromInt(1000)))
}

func seedHistory(t *testing.T, store *memory.Manager, accountID string, balances map[int]float64) {
	t.Helper()
	ctx := context.Background()
	for d, balance := range balances {
		require.NoError(t, store.BalanceHistory().SaveDay(ctx, day(d), []*models.BalanceHistoryRecord{{
			AccountID: accountID,
			Date:      day(d),
			Balance:   decimal.NewFromFloat(balance),
			Source:    models.BalanceComputed,
		}}))
	}
}

func seedUserAccount(t *testing.T, store *memory.Manager, id string, created time.Time) {
	t.Helper()
	require.NoError(t, store.Accounts().Save(context.Background(), &models.Account{
		ID:        id,
		UserID:    "u1",
		Name:      id,
		Type:      models.AccountStockPortfolio,
		CreatedAt: created,
	}))
}

func TestPerformance_ChangeOverPeriod(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store, nil, nil, day(10))
	ctx := context.Background()

	seedUserAccount(t, store, "acct1", day(5))
	seedHistory(t, store, "acct1", map[int]float64{5: 1000, 6: 1050, 7: 1100, 8: 1100, 9: 1200, 10: 1250})

	report, err := svc.Performance(ctx, "u1", "5D")
	require.NoError(t, err)

	require.Equal(t, "5D", report.Period)
	require.Len(t, report.Points, 6)
	require.True(t, report.Change.Equal(decimal.NewFromInt(250)))
	// 250/1000 = 25%
	require.True(t, report.ChangePct.Equal(decimal.NewFromInt(25)))
}

func TestPerformance_SumsAccounts(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store, nil, nil, day(10))
	ctx := context.Background()

	seedUserAccount(t, store, "stocks", day(8))
	seedUserAccount(t, store, "savings", day(8))
	seedHistory(t, store, "stocks", map[int]float64{9: 1000, 10: 1100})
	seedHistory(t, store, "savings", map[int]float64{9: 500, 10: 500})

	report, err := svc.Performance(ctx, "u1", "1D")
	require.NoError(t, err)

	require.Len(t, report.Points, 2)
	require.True(t, report.Points[0].Balance.Equal(decimal.NewFromInt(1500)))
	require.True(t, report.Points[1].Balance.Equal(decimal.NewFromInt(1600)))
}

func TestPerformance_UnknownPeriod(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store, nil, nil, day(10))

	_, err := svc.Performance(context.Background(), "u1", "2W")

	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "period", validation.Field)
}

func TestPerformance_BackfillsMissingStart(t *testing.T) {
	store := memory.NewManager()
	svc, snap := newTestService(store, nil, nil, day(10))
	ctx := context.Background()

	seedUserAccount(t, store, "acct1", day(1))
	// Only the last two days exist; a 5D request should trigger a backfill.
	seedHistory(t, store, "acct1", map[int]float64{9: 1200, 10: 1250})

	snap.onBackfill = func(ctx context.Context, start, end time.Time) {
		seedHistory(t, store, "acct1", map[int]float64{5: 1000, 6: 1050, 7: 1100, 8: 1150})
	}

	report, err := svc.Performance(ctx, "u1", "5D")
	require.NoError(t, err)
	require.Equal(t, 1, snap.backfills)
	require.Len(t, report.Points, 6)
	require.True(t, report.Points[0].Balance.Equal(decimal.NewFromInt(1000)))
}

func TestPerformance_AllPeriodStartsAtFirstActivity(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store, nil, nil, day(10))
	ctx := context.Background()

	seedUserAccount(t, store, "acct1", day(4))
	seedHistory(t, store, "acct1", map[int]float64{4: 900, 10: 1250})

	report, err := svc.Performance(ctx, "u1", "ALL")
	require.NoError(t, err)
	require.True(t, report.StartDate.Equal(day(4)))
	require.Len(t, report.Points, 2)
}

func TestPerformance_NoActivity(t *testing.T) {
	store := memory.NewManager()
	svc, _ := newTestService(store, nil, nil, day(10))

	report, err := svc.Performance(context.Background(), "u1", "ALL")
	require.NoError(t, err)
	require.Empty(t, report.Points)
	require.True(t, report.Change.IsZero())
}
