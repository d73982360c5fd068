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

// PriceStore is the durable mirror for quotes and the historical close cache.
type PriceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewPriceStore(db *surrealdb.DB, logger *common.Logger) *PriceStore {
	return &PriceStore{
		db:     db,
		logger: logger,
	}
}

func closeID(symbol string, date time.Time) string {
	return symbol + "_" + models.DateString(date)
}

func (s *PriceStore) SaveQuote(ctx context.Context, quote *models.PriceQuote) error {
	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID("price_quote", quote.Symbol),
		"record": quote,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.PriceQuote](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to save quote after retries: %w", lastErr)
}

func (s *PriceStore) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	quotes := make(map[string]*models.PriceQuote, len(symbols))
	for _, symbol := range symbols {
		record, err := surrealdb.Select[models.PriceQuote](ctx, s.db, surrealmodels.NewRecordID("price_quote", symbol))
		if err != nil {
			if isNotFoundError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to select quote: %w", err)
		}
		if record != nil && record.Symbol != "" {
			quotes[symbol] = record
		}
	}
	return quotes, nil
}

func (s *PriceStore) SaveDailyCloses(ctx context.Context, closes []*models.DailyClose) error {
	for _, close := range closes {
		sql := "UPSERT $rid CONTENT $record"
		vars := map[string]any{
			"rid":    surrealmodels.NewRecordID("daily_close", closeID(close.Symbol, close.Date)),
			"record": close,
		}
		if _, err := surrealdb.Query[[]models.DailyClose](ctx, s.db, sql, vars); err != nil {
			return fmt.Errorf("failed to save daily close: %w", err)
		}
	}
	return nil
}

func (s *PriceStore) GetDailyClose(ctx context.Context, symbol string, date time.Time) (*models.DailyClose, error) {
	record, err := surrealdb.Select[models.DailyClose](ctx, s.db, surrealmodels.NewRecordID("daily_close", closeID(symbol, date)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select daily close: %w", err)
	}
	if record == nil || record.Symbol == "" {
		return nil, models.ErrNotFound
	}
	return record, nil
}

func (s *PriceStore) LatestCloseOnOrBefore(ctx context.Context, symbol string, date time.Time) (*models.DailyClose, error) {
	sql := "SELECT * FROM daily_close WHERE symbol = $symbol AND date <= $date ORDER BY date DESC LIMIT 1"
	vars := map[string]any{
		"symbol": symbol,
		"date":   models.DateOf(date),
	}

	results, err := surrealdb.Query[[]models.DailyClose](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily closes: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, models.ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

func (s *PriceStore) LatestCloseDate(ctx context.Context, symbol string) (time.Time, error) {
	sql := "SELECT * FROM daily_close WHERE symbol = $symbol ORDER BY date DESC LIMIT 1"
	vars := map[string]any{"symbol": symbol}

	results, err := surrealdb.Query[[]models.DailyClose](ctx, s.db, sql, vars)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query daily closes: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return time.Time{}, models.ErrNotFound
	}
	return (*results)[0].Result[0].Date, nil
}
