package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

const listingsJSON = `{
  "status": {"error_code": 0, "error_message": null},
  "data": [
    {"symbol": "BTC", "tags": ["mineable", "pow"], "quote": {"USD": {"market_cap": 1140325451388.43, "percent_change_7d": 2.5, "percent_change_30d": -1.25}}},
    {"symbol": "USDT", "tags": ["stablecoin"], "quote": {"USD": {"market_cap": 83512345678, "percent_change_7d": 0.01, "percent_change_30d": null}}},
    {"symbol": "NEW", "tags": [], "quote": {"USD": {"market_cap": null, "percent_change_7d": null, "percent_change_30d": null}}}
  ]
}`

func newTestCMC(t *testing.T, handler http.HandlerFunc, opts ...CMCOption) *CoinMarketCap {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := []CMCOption{
		WithBaseURL(srv.URL),
		WithRateLimit(time.Millisecond),
		WithRetrier(retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Millisecond), retrier.WithRetryIf(isRetryable))),
	}
	return NewCoinMarketCap(zap.NewNop(), "test-key", "USD", append(base, opts...)...)
}

func TestCoinMarketCap_Listings(t *testing.T) {
	c := newTestCMC(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/cryptocurrency/listings/latest", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		assert.Equal(t, "market_cap", r.URL.Query().Get("sort"))
		assert.Equal(t, "USD", r.URL.Query().Get("convert"))
		_, _ = w.Write([]byte(listingsJSON))
	})

	records, err := c.Listings(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	btc := records[0]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, "USD", btc.Quote)
	assert.True(t, btc.MarketCap.Equal(decimal.RequireFromString("1140325451388.43")), "got %s", btc.MarketCap)
	assert.Equal(t, 2.5, btc.PercentChange7d)
	assert.Equal(t, -1.25, btc.PercentChange30d)
	_, ok := btc.HasAnyTag(map[string]struct{}{"pow": {}})
	assert.True(t, ok)

	assert.Equal(t, 0.0, records[1].PercentChange30d)
	assert.True(t, records[2].MarketCap.IsZero())
}

func TestCoinMarketCap_Errors(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		c := NewCoinMarketCap(zap.NewNop(), "", "USD")
		_, err := c.Listings(context.Background())
		assert.True(t, errors.Is(err, domain.ErrConfiguration))
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestCMC(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":{"error_code":1002,"error_message":"API key missing."}}`))
		})

		_, err := c.Listings(context.Background())
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestCMC(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(listingsJSON))
		})

		records, err := c.Listings(context.Background())
		require.NoError(t, err)
		assert.Len(t, records, 3)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("api error status", func(t *testing.T) {
		c := newTestCMC(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":{"error_code":1008,"error_message":"rate limit"},"data":[]}`))
		})

		_, err := c.Listings(context.Background())
		assert.Error(t, err)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("connection reset")))
	assert.True(t, isRetryable(&statusError{code: http.StatusTooManyRequests}))
	assert.True(t, isRetryable(errors.Wrap(&statusError{code: http.StatusServiceUnavailable}, "fetch")))
	assert.False(t, isRetryable(&statusError{code: http.StatusForbidden}))
}
