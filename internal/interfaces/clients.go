// Package interfaces defines service contracts for Folio
package interfaces

import (
	"context"
	"time"

	"github.com/sgrimes/folio/internal/models"
)

// MarketDataClient fetches prices from the external provider.
// Both methods tolerate partial failure: a symbol with no data is simply
// absent from the result rather than failing the whole call.
type MarketDataClient interface {
	// GetQuotes fetches current quotes for the given symbols.
	GetQuotes(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error)

	// GetDailyCloses fetches historical daily closes for one symbol over the
	// inclusive date range.
	GetDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]*models.DailyClose, error)
}
