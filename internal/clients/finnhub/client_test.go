package finnhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("test-token", WithBaseURL(server.URL), WithRateLimit(1000))
	return server, client
}

func TestGetQuotes(t *testing.T) {
	var gotToken string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		switch r.URL.Path {
		case "/quote":
			require.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
			json.NewEncoder(w).Encode(map[string]float64{"c": 180.5, "d": 1.25, "dp": 0.7, "pc": 179.25})
		case "/stock/profile2":
			json.NewEncoder(w).Encode(map[string]string{"name": "Apple Inc"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	quotes, err := client.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Equal(t, "test-token", gotToken)

	q := quotes["AAPL"]
	require.NotNil(t, q)
	require.True(t, q.Price.Equal(decimal.NewFromFloat(180.5)))
	require.True(t, q.DailyChange.Equal(decimal.NewFromFloat(1.25)))
	require.Equal(t, "Apple Inc", q.CompanyName)
	require.False(t, q.FetchedAt.IsZero())
}

func TestGetQuotes_SkipsFailedSymbols(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			json.NewEncoder(w).Encode(map[string]string{})
			return
		}
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			json.NewEncoder(w).Encode(map[string]float64{"c": 180, "pc": 179})
		case "GHOST":
			// Unknown symbols come back as all zeros.
			json.NewEncoder(w).Encode(map[string]float64{"c": 0})
		case "BROKEN":
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	quotes, err := client.GetQuotes(context.Background(), []string{"AAPL", "GHOST", "BROKEN"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.Contains(t, quotes, "AAPL")
}

func TestGetQuotes_ContextCancelled(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"c": 1})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetQuotes(ctx, []string{"AAPL"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGetDailyCloses(t *testing.T) {
	day1 := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)

	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stock/candle", r.URL.Path)
		require.Equal(t, "D", r.URL.Query().Get("resolution"))
		json.NewEncoder(w).Encode(map[string]any{
			"s": "ok",
			"c": []float64{150.25, 151.5},
			"t": []int64{day1.Unix(), day2.Unix()},
		})
	})

	closes, err := client.GetDailyCloses(context.Background(), "AAPL", day1, day2)
	require.NoError(t, err)
	require.Len(t, closes, 2)
	require.True(t, closes[0].Date.Equal(day1))
	require.True(t, closes[0].Close.Equal(decimal.NewFromFloat(150.25)))
	require.True(t, closes[1].Date.Equal(day2))
}

func TestGetDailyCloses_NoData(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"s": "no_data"})
	})

	closes, err := client.GetDailyCloses(context.Background(), "GHOST", time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Empty(t, closes)
}

func TestAPIError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("API limit reached"))
	})

	_, err := client.GetDailyCloses(context.Background(), "AAPL", time.Now().AddDate(0, 0, -7), time.Now())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "API limit reached")
}
