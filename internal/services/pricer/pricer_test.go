package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

func TestQuoteBook_Resolve(t *testing.T) {
	book := newQuoteBook("USD", []string{"USDT", "USDC"})
	tickers := map[string]decimal.Decimal{
		"BTCUSD":  decimal.NewFromInt(50000),
		"USDTUSD": decimal.RequireFromString("0.9998"),
		"ETHUSD":  decimal.Zero,
	}

	prices := book.resolve([]string{"BTC", "USD", "USDT", "USDC", "ETH", "NOPE"}, tickers)

	assert.True(t, prices["BTC"].Equal(decimal.NewFromInt(50000)))
	assert.True(t, prices["USD"].Equal(decimal.NewFromInt(1)))
	assert.True(t, prices["USDT"].Equal(decimal.RequireFromString("0.9998")), "ticker wins over the stablecoin default")
	assert.True(t, prices["USDC"].Equal(decimal.NewFromInt(1)))

	_, ok := prices["ETH"]
	assert.False(t, ok, "zero ticker is not a price")
	_, ok = prices["NOPE"]
	assert.False(t, ok)
}

func TestBinancePricer_Lookup(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSD","price":"64000.10"},{"symbol":"ETHUSD","price":"3100.5"},{"symbol":"ETHBTC","price":"0.05"}]`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL
	p := NewBinancePricer(zap.NewNop(), client, "USD", []string{"USDT"}, retrier.New(retrier.WithMaxRetries(0)))

	t.Run("prices from tickers", func(t *testing.T) {
		prices, err := p.Lookup(context.Background(), []string{"BTC", "ETH", "USDT", "USD"})
		require.NoError(t, err)
		assert.Len(t, prices, 4)
		assert.True(t, prices["BTC"].Equal(decimal.RequireFromString("64000.10")))
		assert.True(t, prices["ETH"].Equal(decimal.RequireFromString("3100.5")))
		assert.True(t, prices["USDT"].Equal(decimal.NewFromInt(1)))
		assert.True(t, prices["USD"].Equal(decimal.NewFromInt(1)))
	})

	t.Run("purchasing currency alone needs no request", func(t *testing.T) {
		before := calls
		prices, err := p.Lookup(context.Background(), []string{"USD"})
		require.NoError(t, err)
		assert.Equal(t, before, calls)
		assert.True(t, prices["USD"].Equal(decimal.NewFromInt(1)))
	})
}

func TestBinancePricer_LookupError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1000,"msg":"unknown"}`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL
	p := NewBinancePricer(zap.NewNop(), client, "USD", nil, retrier.New(retrier.WithMaxRetries(1), retrier.WithInitialInterval(time.Millisecond)))

	_, err := p.Lookup(context.Background(), []string{"BTC"})
	assert.Error(t, err)
}
