package snapshot

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

// fakeCandleClient serves scripted daily closes.
type fakeCandleClient struct {
	closes map[string][]*models.DailyClose
	calls  int
}

func (c *fakeCandleClient) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	return nil, nil
}

func (c *fakeCandleClient) GetDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]*models.DailyClose, error) {
	c.calls++
	var out []*models.DailyClose
	for _, close := range c.closes[symbol] {
		if !close.Date.Before(models.DateOf(from)) && !close.Date.After(models.DateOf(to)) {
			out = append(out, close)
		}
	}
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func dailyClose(symbol string, d int, price float64) *models.DailyClose {
	return &models.DailyClose{Symbol: symbol, Date: day(d), Close: decimal.NewFromFloat(price)}
}

func seedAccount(t *testing.T, store *memory.Manager, id string, accountType models.AccountType, balance float64, created time.Time) {
	t.Helper()
	require.NoError(t, store.Accounts().Save(context.Background(), &models.Account{
		ID:        id,
		UserID:    "u1",
		Name:      id,
		Type:      accountType,
		Balance:   decimal.NewFromFloat(balance),
		CreatedAt: created,
	}))
}

func seedBuy(t *testing.T, store *memory.Manager, symbol string, qty float64, d int) {
	t.Helper()
	txn := &models.Transaction{
		ID:            symbol + "_" + models.DateString(day(d)),
		UserID:        "u1",
		Symbol:        symbol,
		Type:          models.TransactionBuy,
		Quantity:      decimal.NewFromFloat(qty),
		PricePerShare: decimal.NewFromInt(100),
		Date:          day(d),
		CreatedAt:     day(d),
	}
	txn.Normalize()
	require.NoError(t, store.Transactions().Append(context.Background(), txn))
}

func newTestService(store *memory.Manager, client *fakeCandleClient, now time.Time) *Service {
	clock := common.NewMarketClock("America/New_York")
	clock.Now = func() time.Time { return now }
	svc := NewService(store, client, clock, common.NewSilentLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func TestCreateForDate_ValuesStockAccountAtClose(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {dailyClose("AAPL", 10, 150)},
	}}
	svc := newTestService(store, client, day(10))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	written, err := svc.CreateForDate(ctx, day(10))
	require.NoError(t, err)
	require.Equal(t, 1, written)

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(10))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(1500)), "balance = %s", record.Balance)
	require.Equal(t, models.BalanceComputed, record.Source)
}

func TestCreateForDate_ManualAccountCarriesBalance(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(10))
	ctx := context.Background()

	seedAccount(t, store, "savings", models.AccountManual, 5000, day(1))

	written, err := svc.CreateForDate(ctx, day(10))
	require.NoError(t, err)
	require.Equal(t, 1, written)

	record, err := store.BalanceHistory().Get(ctx, "savings", day(10))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(5000)))
}

func TestCreateForDate_SkipsAccountsCreatedLater(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(20))
	ctx := context.Background()

	seedAccount(t, store, "new", models.AccountManual, 100, day(15))

	written, err := svc.CreateForDate(ctx, day(10))
	require.NoError(t, err)
	require.Zero(t, written)
}

func TestCreateForDate_IgnoresTransactionsAfterDate(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {dailyClose("AAPL", 10, 150)},
	}}
	svc := newTestService(store, client, day(20))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)
	seedBuy(t, store, "AAPL", 10, 15) // after the snapshot date

	_, err := svc.CreateForDate(ctx, day(10))
	require.NoError(t, err)

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(10))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(1500)), "only the first lot counts on day 10")
}

func TestCreateForDate_CarriesForwardPriorClose(t *testing.T) {
	store := memory.NewManager()
	ctx := context.Background()

	// Friday's close is cached; Sunday has none, and the provider has no
	// candles either.
	require.NoError(t, store.Prices().SaveDailyCloses(ctx, []*models.DailyClose{dailyClose("AAPL", 7, 140)}))

	client := &fakeCandleClient{}
	svc := newTestService(store, client, day(9))
	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	_, err := svc.CreateForDate(ctx, day(9))
	require.NoError(t, err)

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(9))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(1400)), "valued at Friday's carried-forward close")
	require.True(t, record.Substituted, "row marks the carried-forward close")
	require.Zero(t, client.calls, "no candle fetch for a non-trading day")
}

func TestCreateForDate_SkipsProviderWhenMirrorCoversDate(t *testing.T) {
	store := memory.NewManager()
	ctx := context.Background()

	// The mirror extends past the date but has no close on it (holiday), so
	// asking the provider again cannot help.
	require.NoError(t, store.Prices().SaveDailyCloses(ctx, []*models.DailyClose{
		dailyClose("AAPL", 7, 140),
		dailyClose("AAPL", 11, 160),
	}))

	client := &fakeCandleClient{}
	svc := newTestService(store, client, day(12))
	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	_, err := svc.CreateForDate(ctx, day(10))
	require.NoError(t, err)

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(10))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(1400)), "valued at the carried-forward close")
	require.True(t, record.Substituted)
	require.Zero(t, client.calls, "mirror already covers the date")
}

func TestCreateForDate_PreservesPastDayRows(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {dailyClose("AAPL", 10, 150)},
	}}
	svc := newTestService(store, client, day(12))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedAccount(t, store, "acct2", models.AccountManual, 5000, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	// acct1 already has a final row for day 10; acct2 does not.
	require.NoError(t, store.BalanceHistory().SaveDay(ctx, day(10), []*models.BalanceHistoryRecord{
		{AccountID: "acct1", Date: day(10), Balance: decimal.NewFromInt(999), Source: models.BalanceComputed},
	}))

	written, err := svc.CreateForDate(ctx, day(10))
	require.NoError(t, err)
	require.Equal(t, 1, written, "only the missing account gets a row")

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(10))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(999)), "past rows are immutable")

	added, err := store.BalanceHistory().Get(ctx, "acct2", day(10))
	require.NoError(t, err)
	require.True(t, added.Balance.Equal(decimal.NewFromInt(5000)))
}

func TestCreateForDate_NoCloseAnywhere(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(10))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "GHOST", 10, 5)

	_, err := svc.CreateForDate(ctx, day(10))

	var unavailable *models.PriceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, "GHOST", unavailable.Symbol)

	// Nothing was written for the day.
	_, err = store.BalanceHistory().Get(ctx, "acct1", day(10))
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestBackfill_WritesRangeAndIsIdempotent(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {
			dailyClose("AAPL", 5, 100), dailyClose("AAPL", 6, 101), dailyClose("AAPL", 7, 102),
			dailyClose("AAPL", 10, 105),
		},
	}}
	svc := newTestService(store, client, day(10))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	written, err := svc.Backfill(ctx, day(5), day(10))
	require.NoError(t, err)
	require.Equal(t, 6, written)

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(7))
	require.NoError(t, err)
	require.Equal(t, models.BalanceBackfilled, record.Source)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(1020)))

	// The weekend rows carry Friday's close forward.
	weekend, err := store.BalanceHistory().Get(ctx, "acct1", day(8))
	require.NoError(t, err)
	require.True(t, weekend.Balance.Equal(decimal.NewFromInt(1020)))
	require.True(t, weekend.Substituted)

	// Second run over the same range writes nothing.
	written, err = svc.Backfill(ctx, day(5), day(10))
	require.NoError(t, err)
	require.Zero(t, written)
}

func TestBackfill_PreservesComputedRows(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {dailyClose("AAPL", 5, 100), dailyClose("AAPL", 6, 101)},
	}}
	svc := newTestService(store, client, day(6))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	// Day 5 was already computed by the scheduler.
	require.NoError(t, store.BalanceHistory().SaveDay(ctx, day(5), []*models.BalanceHistoryRecord{
		{AccountID: "acct1", Date: day(5), Balance: decimal.NewFromInt(999), Source: models.BalanceComputed},
	}))

	written, err := svc.Backfill(ctx, day(5), day(6))
	require.NoError(t, err)
	require.Equal(t, 1, written, "only the missing day is written")

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(5))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(999)), "computed row untouched")
}

func TestBackfill_ClampsEndToToday(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(10))
	ctx := context.Background()

	seedAccount(t, store, "savings", models.AccountManual, 100, day(9))

	written, err := svc.Backfill(ctx, day(9), day(25))
	require.NoError(t, err)
	require.Equal(t, 2, written, "days 9 and 10 only")
}

func TestBackfill_Cancellation(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(10))

	seedAccount(t, store, "savings", models.AccountManual, 100, day(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	written, err := svc.Backfill(ctx, day(1), day(10))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, written)
}

func TestFillMissing_CoversFromEarliestActivity(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {
			dailyClose("AAPL", 3, 100), dailyClose("AAPL", 4, 100), dailyClose("AAPL", 5, 100),
			dailyClose("AAPL", 6, 100), dailyClose("AAPL", 7, 100),
		},
	}}
	svc := newTestService(store, client, day(7))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(3))
	seedBuy(t, store, "AAPL", 10, 3)

	written, err := svc.FillMissing(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, written, "days 3 through 7")

	dates, err := store.BalanceHistory().ExistingDates(ctx, "acct1", day(3), day(7))
	require.NoError(t, err)
	require.Len(t, dates, 5)
}

func TestFillMissing_NothingToDo(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(7))

	written, err := svc.FillMissing(context.Background())
	require.NoError(t, err)
	require.Zero(t, written)
}

func TestInvalidateFrom_DeletesAndRebuildsInline(t *testing.T) {
	store := memory.NewManager()
	client := &fakeCandleClient{closes: map[string][]*models.DailyClose{
		"AAPL": {dailyClose("AAPL", 5, 100), dailyClose("AAPL", 6, 110), dailyClose("AAPL", 7, 120)},
	}}
	svc := newTestService(store, client, day(7))
	ctx := context.Background()

	seedAccount(t, store, "acct1", models.AccountStockPortfolio, 0, day(1))
	seedBuy(t, store, "AAPL", 10, 5)

	_, err := svc.Backfill(ctx, day(5), day(7))
	require.NoError(t, err)

	// A correction invalidates day 6 onward; rows are rebuilt inline since
	// no job manager is wired.
	require.NoError(t, svc.InvalidateFrom(ctx, day(6)))

	record, err := store.BalanceHistory().Get(ctx, "acct1", day(6))
	require.NoError(t, err)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(1100)))

	before, err := store.BalanceHistory().Get(ctx, "acct1", day(5))
	require.NoError(t, err)
	require.True(t, before.Balance.Equal(decimal.NewFromInt(1000)), "rows before the date survive")
}

func TestInvalidateFrom_SubmitsJobWhenWired(t *testing.T) {
	store := memory.NewManager()
	svc := newTestService(store, &fakeCandleClient{}, day(7))
	ctx := context.Background()

	jobs := &recordingJobManager{}
	svc.SetJobManager(jobs)

	require.NoError(t, svc.InvalidateFrom(ctx, day(3)))
	require.Len(t, jobs.submitted, 1)
	require.Equal(t, models.JobTypeSnapshotBackfill, jobs.submitted[0].Type)
	require.True(t, jobs.submitted[0].StartDate.Equal(day(3)))
	require.True(t, jobs.submitted[0].EndDate.Equal(day(7)))
}

type recordingJobManager struct {
	submitted []*models.Job
}

func (m *recordingJobManager) Submit(job *models.Job) bool {
	m.submitted = append(m.submitted, job)
	return true
}

func (m *recordingJobManager) Start() {}
func (m *recordingJobManager) Stop()  {}
