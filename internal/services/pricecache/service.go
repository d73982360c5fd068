// Package pricecache serves current quotes through a market-hours-aware
// cache in front of the market data provider.
package pricecache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// Ensure Service implements PriceService
var _ interfaces.PriceService = (*Service)(nil)

// Service caches quotes in memory with a durable mirror in the price store.
// Freshness depends on the exchange: while the market is open an entry
// expires after the configured TTL, and while it is closed any entry fetched
// after the last close stays valid until the next open.
//
// Concurrent requests for the same stale symbol are coalesced into a single
// provider call.
type Service struct {
	storage interfaces.StorageManager
	client  interfaces.MarketDataClient
	clock   *common.MarketClock
	logger  *common.Logger
	ttl     time.Duration

	mu      sync.RWMutex
	entries map[string]*models.PriceQuote

	group singleflight.Group
}

// NewService creates a new price cache service.
func NewService(storage interfaces.StorageManager, client interfaces.MarketDataClient, clock *common.MarketClock, ttl time.Duration, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		client:  client,
		clock:   clock,
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]*models.PriceQuote),
	}
}

// MarketOpen reports whether the exchange is currently open.
func (s *Service) MarketOpen() bool {
	return s.clock.IsOpenNow()
}

// fresh reports whether a cached quote may be served without refreshing.
func (s *Service) fresh(quote *models.PriceQuote) bool {
	now := s.clock.Now()
	if s.clock.IsOpen(now) {
		return !quote.FetchedAt.IsZero() && now.Sub(quote.FetchedAt) < s.ttl
	}
	// Closed market: anything fetched after the last close cannot change
	// until the next open.
	return quote.FetchedAt.After(s.clock.LastClose(now))
}

// GetPrices returns one entry per requested symbol. Fresh entries are served
// from cache; stale ones are refreshed, and when the refresh fails the
// last-known value is returned with Stale set. A symbol with no value at all
// is omitted from the result, and the first such PriceUnavailableError is
// returned alongside the quotes that could be resolved so the rest of the
// portfolio still renders.
func (s *Service) GetPrices(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	result := make(map[string]*models.PriceQuote, len(symbols))
	var stale []string

	s.mu.RLock()
	for _, symbol := range symbols {
		if quote, ok := s.entries[symbol]; ok && s.fresh(quote) {
			result[symbol] = copyQuote(quote)
			continue
		}
		stale = append(stale, symbol)
	}
	s.mu.RUnlock()

	var missing error
	for _, symbol := range stale {
		quote, err := s.refreshOne(ctx, symbol)
		if err != nil {
			if missing == nil {
				missing = err
			}
			continue
		}
		result[symbol] = quote
	}

	return result, missing
}

// Refresh force-fetches the given symbols regardless of freshness.
func (s *Service) Refresh(ctx context.Context, symbols []string) error {
	quotes, err := s.client.GetQuotes(ctx, symbols)
	if err != nil {
		return err
	}
	for _, quote := range quotes {
		s.store(ctx, quote)
	}
	s.logger.Debug().Int("requested", len(symbols)).Int("fetched", len(quotes)).Msg("Prices refreshed")
	return nil
}

// refreshOne fetches a single symbol through the singleflight group, falling
// back to the last-known value when the provider fails.
func (s *Service) refreshOne(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	v, err, _ := s.group.Do(symbol, func() (interface{}, error) {
		// Another caller may have refreshed while this one waited on the
		// group; serve that instead of hitting the provider again.
		s.mu.RLock()
		cached := s.entries[symbol]
		s.mu.RUnlock()
		if cached != nil && s.fresh(cached) {
			return copyQuote(cached), nil
		}

		quotes, fetchErr := s.client.GetQuotes(ctx, []string{symbol})
		if fetchErr == nil {
			if quote := quotes[symbol]; quote != nil {
				s.store(ctx, quote)
				return copyQuote(quote), nil
			}
		}

		// Provider failed or returned nothing: fall back to the last-known
		// value, marked stale, from memory or the durable mirror.
		if fallback := s.lastKnown(ctx, symbol); fallback != nil {
			s.logger.Warn().Err(fetchErr).Str("symbol", symbol).Msg("Serving stale price after refresh failure")
			fallback.Stale = true
			return fallback, nil
		}

		return nil, &models.PriceUnavailableError{Symbol: symbol, Cause: fetchErr}
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PriceQuote), nil
}

// lastKnown returns a copy of the most recent value for the symbol from
// memory or the price store, or nil.
func (s *Service) lastKnown(ctx context.Context, symbol string) *models.PriceQuote {
	s.mu.RLock()
	cached := s.entries[symbol]
	s.mu.RUnlock()
	if cached != nil {
		return copyQuote(cached)
	}

	stored, err := s.storage.Prices().GetQuotes(ctx, []string{symbol})
	if err != nil || stored[symbol] == nil {
		return nil
	}
	return copyQuote(stored[symbol])
}

// store writes a fetched quote to the in-memory cache and, best effort, to
// the durable mirror.
func (s *Service) store(ctx context.Context, quote *models.PriceQuote) {
	s.mu.Lock()
	s.entries[quote.Symbol] = copyQuote(quote)
	s.mu.Unlock()

	if err := s.storage.Prices().SaveQuote(ctx, quote); err != nil {
		s.logger.Warn().Err(err).Str("symbol", quote.Symbol).Msg("Failed to persist quote")
	}
}

func copyQuote(q *models.PriceQuote) *models.PriceQuote {
	c := *q
	return &c
}
