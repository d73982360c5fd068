// Package finnhub provides a client for the Finnhub market data API
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// Ensure Client implements MarketDataClient
var _ interfaces.MarketDataClient = (*Client)(nil)

const (
	DefaultBaseURL   = "https://finnhub.io/api/v1"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements the MarketDataClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	now        func() time.Time
	marketOpen func() bool
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithMarketClock wires the market clock used to annotate fetched quotes.
func WithMarketClock(clock *common.MarketClock) ClientOption {
	return func(c *Client) {
		c.now = clock.Now
		c.marketOpen = clock.IsOpenNow
	}
}

// NewClient creates a new Finnhub client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
		now:        time.Now,
		marketOpen: func() bool { return false },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.apiKey)

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Finnhub API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// quoteResponse is the /quote payload. A quote of all zeros means the symbol
// is unknown to the provider.
type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	PrevClose     float64 `json:"pc"`
}

// profileResponse is the subset of /stock/profile2 we use.
type profileResponse struct {
	Name string `json:"name"`
}

// GetQuotes fetches current quotes for the given symbols. The provider has no
// batch quote endpoint, so requests are issued sequentially under the rate
// limiter. A symbol that fails or returns no data is omitted from the result.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.PriceQuote, error) {
	quotes := make(map[string]*models.PriceQuote, len(symbols))
	marketOpen := c.marketOpen()

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return quotes, err
		}

		params := url.Values{}
		params.Set("symbol", symbol)

		var q quoteResponse
		if err := c.get(ctx, "/quote", params, &q); err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed")
			continue
		}
		if q.Current == 0 {
			c.logger.Warn().Str("symbol", symbol).Msg("Provider returned no quote")
			continue
		}

		quotes[symbol] = &models.PriceQuote{
			Symbol:                symbol,
			Price:                 decimal.NewFromFloat(q.Current),
			DailyChange:           decimal.NewFromFloat(q.Change),
			DailyChangePct:        decimal.NewFromFloat(q.ChangePercent),
			CompanyName:           c.companyName(ctx, symbol),
			FetchedAt:             c.now(),
			MarketOpenWhenFetched: marketOpen,
		}
	}

	return quotes, nil
}

// companyName fetches the profile name, best effort.
func (c *Client) companyName(ctx context.Context, symbol string) string {
	params := url.Values{}
	params.Set("symbol", symbol)

	var p profileResponse
	if err := c.get(ctx, "/stock/profile2", params, &p); err != nil {
		c.logger.Debug().Err(err).Str("symbol", symbol).Msg("Profile fetch failed")
		return ""
	}
	return p.Name
}

// candleResponse is the /stock/candle payload (parallel arrays).
type candleResponse struct {
	Status     string    `json:"s"` // "ok" or "no_data"
	Closes     []float64 `json:"c"`
	Timestamps []int64   `json:"t"`
}

// GetDailyCloses fetches historical daily closes for one symbol over the
// inclusive date range. Non-trading days are simply absent.
func (c *Client) GetDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]*models.DailyClose, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("resolution", "D")
	params.Set("from", fmt.Sprintf("%d", models.DateOf(from).Unix()))
	params.Set("to", fmt.Sprintf("%d", models.DateOf(to).AddDate(0, 0, 1).Unix()))

	var candles candleResponse
	if err := c.get(ctx, "/stock/candle", params, &candles); err != nil {
		return nil, err
	}

	if candles.Status != "ok" || len(candles.Closes) == 0 {
		return nil, nil
	}

	closes := make([]*models.DailyClose, 0, len(candles.Closes))
	for i, ts := range candles.Timestamps {
		if i >= len(candles.Closes) {
			break
		}
		closes = append(closes, &models.DailyClose{
			Symbol: symbol,
			Date:   models.DateOf(time.Unix(ts, 0)),
			Close:  decimal.NewFromFloat(candles.Closes[i]),
		})
	}

	return closes, nil
}
