package internal

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/cryptoindex/config"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/internal/services/exchange"
	"github.com/vadiminshakov/cryptoindex/internal/services/marketdata"
	"github.com/vadiminshakov/cryptoindex/internal/services/pricer"
	"github.com/vadiminshakov/cryptoindex/internal/storage/cache"
)

var botNow = time.Unix(1700000000, 0)

type staticPricer map[string]decimal.Decimal

func (p staticPricer) Lookup(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if price, ok := p[s]; ok {
			out[s] = price
		}
	}
	return out, nil
}

type fakeListings struct {
	records []domain.CoinMarketRecord
	err     error
	calls   int
}

func (f *fakeListings) Listings(ctx context.Context) ([]domain.CoinMarketRecord, error) {
	f.calls++
	return f.records, f.err
}

type noKlines struct{}

func (noKlines) Closes(ctx context.Context, pair domain.Pair, interval string, limit int) ([]decimal.Decimal, error) {
	return nil, errors.New("no candles")
}

// klinesByBase serves fixed closes and counts fetches per base symbol.
type klinesByBase struct {
	closes map[string][]decimal.Decimal
	calls  map[string]int
}

func (k *klinesByBase) Closes(ctx context.Context, pair domain.Pair, interval string, limit int) ([]decimal.Decimal, error) {
	k.calls[pair.From]++
	closes, ok := k.closes[pair.From]
	if !ok {
		return nil, errors.New("no candles")
	}
	return closes, nil
}

type fakeProvider struct {
	ex     *exchange.Simulated
	pricer staticPricer
	klines marketdata.KlineSource
}

func (p *fakeProvider) Exchange() exchange.Adapter { return p.ex }
func (p *fakeProvider) Pricer() pricer.Pricer      { return p.pricer }

func (p *fakeProvider) Klines() marketdata.KlineSource {
	if p.klines == nil {
		return noKlines{}
	}
	return p.klines
}

func usd(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func trading(base, quote string) domain.Market {
	return domain.Market{Exchange: domain.ExchangeSimulate, Pair: domain.NewPair(base, quote), Status: domain.MarketStatusTrading}
}

func testRecords() []domain.CoinMarketRecord {
	return []domain.CoinMarketRecord{
		domain.NewCoinMarketRecord("BTC", "USD", usd(500), 1, 2),
		domain.NewCoinMarketRecord("USDT", "USD", usd(400), 0, 0, "stablecoin"),
		domain.NewCoinMarketRecord("ETH", "USD", usd(300), 3, 4),
		domain.NewCoinMarketRecord("SOL", "USD", usd(200), 5, 6),
		domain.NewCoinMarketRecord("ADA", "USD", usd(100), 7, 8),
	}
}

func newFakeProvider(opts ...exchange.SimulatedOption) *fakeProvider {
	prices := staticPricer{
		"USD":  usd(1),
		"USDT": usd(1),
		"BTC":  usd(50000),
		"ETH":  usd(2000),
		"SOL":  usd(100),
	}
	rule := func(step string) domain.TradingRule {
		return domain.TradingRule{Tradable: true, QuotePrecision: 8, StepSize: decimal.RequireFromString(step), TickSize: decimal.RequireFromString("0.01")}
	}

	base := []exchange.SimulatedOption{
		// ADA only trades against USDT
		exchange.WithMarkets(trading("BTC", "USD"), trading("ETH", "USD"), trading("SOL", "USD"), trading("USDT", "USD"), trading("ADA", "USDT")),
		exchange.WithTradingRule("BTC", rule("0.00001")),
		exchange.WithTradingRule("ETH", rule("0.0001")),
		exchange.WithTradingRule("SOL", rule("0.01")),
		exchange.WithClock(func() time.Time { return botNow }),
	}
	return &fakeProvider{
		ex:     exchange.NewSimulated(zap.NewNop(), "USD", prices, append(base, opts...)...),
		pricer: prices,
	}
}

func testConfig() config.Config {
	conf := config.Default()
	conf.Exchanges = []domain.ExchangeID{domain.ExchangeSimulate}
	conf.ExcludeTags = map[string]struct{}{"stablecoin": {}}
	conf.CacheTTL = 0
	return conf
}

func newTestBot(t *testing.T, conf config.Config, provider *fakeProvider, opts ...Option) (*IndexBot, *fakeListings) {
	listings := &fakeListings{records: testRecords()}
	base := []Option{
		WithMarketData(listings),
		withProvider(domain.ExchangeSimulate, provider),
		WithClock(func() time.Time { return botNow }),
	}
	bot, err := NewIndexBot(zap.NewNop(), conf, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bot.Close() })
	return bot, listings
}

func allocationSymbols(allocations []domain.TargetAllocation) []string {
	out := make([]string, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, a.Symbol)
	}
	return out
}

func TestIndexBot_Index(t *testing.T) {
	bot, _ := newTestBot(t, testConfig(), newFakeProvider())

	allocations, err := bot.Index(context.Background(), domain.IndexStrategyMarketCap, -1)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, allocationSymbols(allocations))
	assert.True(t, allocations[0].TargetPercentage.Equal(usd(50)), "got %s", allocations[0].TargetPercentage)
	assert.True(t, allocations[1].TargetPercentage.Equal(usd(30)))
	assert.True(t, allocations[2].TargetPercentage.Equal(usd(20)))

	limited, err := bot.Index(context.Background(), domain.IndexStrategyMarketCap, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, allocationSymbols(limited))
}

func TestIndexBot_IndexSMAFallsBackWithoutHistory(t *testing.T) {
	bot, _ := newTestBot(t, testConfig(), newFakeProvider())

	allocations, err := bot.Index(context.Background(), domain.IndexStrategySMA, -1)
	require.NoError(t, err)
	require.Len(t, allocations, 3)
	assert.True(t, allocations[0].TargetPercentage.Equal(usd(50)))
}

func TestIndexBot_IndexUsesCache(t *testing.T) {
	c, err := cache.Open(zap.NewNop(), t.TempDir(), time.Hour)
	require.NoError(t, err)

	bot, listings := newTestBot(t, testConfig(), newFakeProvider(), WithCache(c))

	first, err := bot.Index(context.Background(), domain.IndexStrategyMarketCap, -1)
	require.NoError(t, err)
	second, err := bot.Index(context.Background(), domain.IndexStrategyMarketCap, -1)
	require.NoError(t, err)

	assert.Equal(t, 1, listings.calls)
	assert.Equal(t, allocationSymbols(first), allocationSymbols(second))
}

func decimals(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, decimal.NewFromInt(v))
	}
	return out
}

func newKlines() *klinesByBase {
	return &klinesByBase{
		closes: map[string][]decimal.Decimal{
			"BTC": decimals(10, 10, 20),
			"ETH": decimals(30, 30, 10),
			"SOL": decimals(5, 5, 5),
		},
		calls: map[string]int{},
	}
}

func TestIndexBot_IndexSMAHistoryCachedPerPair(t *testing.T) {
	conf := testConfig()
	conf.SMAPeriod = 3

	fresh := newFakeProvider()
	fresh.klines = newKlines()
	bot, _ := newTestBot(t, conf, fresh)
	want, err := bot.Index(context.Background(), domain.IndexStrategySMA, -1)
	require.NoError(t, err)
	require.Len(t, want, 3)

	c, err := cache.Open(zap.NewNop(), t.TempDir(), time.Hour)
	require.NoError(t, err)
	klines := newKlines()
	cached := newFakeProvider()
	cached.klines = klines
	bot, _ = newTestBot(t, conf, cached, WithCache(c))

	// warm the cache with a smaller universe first
	subset, err := bot.Index(context.Background(), domain.IndexStrategySMA, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, allocationSymbols(subset))

	got, err := bot.Index(context.Background(), domain.IndexStrategySMA, -1)
	require.NoError(t, err)
	require.Equal(t, allocationSymbols(want), allocationSymbols(got))
	for i := range want {
		assert.True(t, want[i].TargetPercentage.Equal(got[i].TargetPercentage),
			"%s: want %s, got %s", want[i].Symbol, want[i].TargetPercentage, got[i].TargetPercentage)
	}
	assert.Equal(t, map[string]int{"BTC": 1, "ETH": 1, "SOL": 1}, klines.calls)
}

func TestIndexBot_ListingsErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	listings := &fakeListings{err: cause}
	bot, err := NewIndexBot(zap.NewNop(), testConfig(),
		WithMarketData(listings),
		withProvider(domain.ExchangeSimulate, newFakeProvider()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bot.Close() })

	_, err = bot.Index(context.Background(), domain.IndexStrategyMarketCap, -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMarketDataUnavailable))
	assert.True(t, errors.Is(err, cause))
}

func TestIndexBot_Portfolio(t *testing.T) {
	provider := newFakeProvider(exchange.WithBalances(
		domain.Balance{Symbol: "USD", Amount: usd(100)},
		domain.Balance{Symbol: "BTC", Amount: decimal.RequireFromString("0.002")},
	))
	bot, _ := newTestBot(t, testConfig(), provider)

	views, err := bot.Portfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)

	view := views[0]
	assert.Equal(t, domain.ExchangeSimulate, view.Exchange)
	assert.True(t, view.PurchasingBalance.Equal(usd(100)))
	assert.True(t, view.Total.Equal(usd(100)), "got %s", view.Total)

	require.Len(t, view.Rows, 3)
	assert.Equal(t, "BTC", view.Rows[0].Symbol)
	assert.True(t, view.Rows[0].CurrentPercentage.Equal(usd(100)))
	assert.True(t, view.Rows[1].Deficit().Equal(usd(30)))
}

func TestIndexBot_BuyLive(t *testing.T) {
	conf := testConfig()
	conf.Livemode = true

	old := domain.ExecutedOrder{
		Symbol:    "ETH",
		ID:        "stale-1",
		Side:      domain.OrderSideBuy,
		CreatedAt: botNow.Add(-100 * time.Hour).Unix(),
	}
	provider := newFakeProvider(
		exchange.WithBalances(
			domain.Balance{Symbol: "USD", Amount: usd(100)},
			domain.Balance{Symbol: "BTC", Amount: decimal.RequireFromString("0.002")},
		),
		exchange.WithOpenOrders(old),
	)
	bot, _ := newTestBot(t, conf, provider)

	results, err := bot.Buy(context.Background(), BuyOptions{CancelStale: true})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.False(t, result.DryRun)
	require.Len(t, result.Cancelled, 1)
	assert.Equal(t, "stale-1", result.Cancelled[0].ID)

	require.Len(t, result.Plan, 2)
	assert.Equal(t, "ETH", result.Plan[0].Symbol)
	assert.Equal(t, "SOL", result.Plan[1].Symbol)
	assert.Equal(t, domain.BuyStrategyMarket, result.Plan[0].Strategy)

	assert.True(t, result.Summary.Succeeded())
	assert.Equal(t, []string{"ETH", "SOL"}, result.Summary.ExecutedSymbols())
	assert.True(t, provider.ex.Balance("USD").Equal(usd(80)))
	assert.True(t, provider.ex.Balance("ETH").Equal(decimal.RequireFromString("0.005")))
	assert.True(t, provider.ex.Balance("SOL").Equal(decimal.RequireFromString("0.1")))
}

func TestIndexBot_BuyDryRun(t *testing.T) {
	provider := newFakeProvider(exchange.WithBalances(domain.Balance{Symbol: "USD", Amount: usd(100)}))

	t.Run("not in livemode", func(t *testing.T) {
		bot, _ := newTestBot(t, testConfig(), provider)

		results, err := bot.Buy(context.Background(), BuyOptions{Convert: true, CancelStale: true})
		require.NoError(t, err)
		require.Len(t, results, 1)

		result := results[0]
		assert.True(t, result.DryRun)
		assert.Empty(t, result.Cancelled)
		assert.Empty(t, result.Conversions.Converted)
		assert.NotEmpty(t, result.Summary.Executed)
		assert.True(t, provider.ex.Balance("USD").Equal(usd(100)), "dry run never touches the exchange")
		assert.Empty(t, provider.ex.Filled())
	})

	t.Run("purchase balance implies dry run", func(t *testing.T) {
		conf := testConfig()
		conf.Livemode = true
		bot, _ := newTestBot(t, conf, provider)

		results, err := bot.Buy(context.Background(), BuyOptions{PurchaseBalance: decimal.NewNullDecimal(usd(200))})
		require.NoError(t, err)

		result := results[0]
		assert.True(t, result.DryRun)
		assert.True(t, result.Available.Equal(usd(200)))
		assert.Equal(t, []string{"BTC", "ETH", "SOL"}, planSymbols(result.Plan))
		assert.Empty(t, provider.ex.Filled())
	})

	t.Run("balance below minimum", func(t *testing.T) {
		bot, _ := newTestBot(t, testConfig(), provider)

		results, err := bot.Buy(context.Background(), BuyOptions{PurchaseBalance: decimal.NewNullDecimal(usd(5))})
		require.NoError(t, err)

		result := results[0]
		assert.True(t, result.InsufficientBalance)
		assert.NotNil(t, result.Plan)
		assert.Empty(t, result.Plan)
	})
}

func planSymbols(plan []domain.PurchaseInstruction) []string {
	out := make([]string, 0, len(plan))
	for _, p := range plan {
		out = append(out, p.Symbol)
	}
	return out
}

func TestIndexBot_Convert(t *testing.T) {
	conf := testConfig()
	conf.Livemode = true
	provider := newFakeProvider(exchange.WithBalances(
		domain.Balance{Symbol: "USD", Amount: usd(10)},
		domain.Balance{Symbol: "USDT", Amount: usd(50)},
		domain.Balance{Symbol: "USDC", Amount: usd(5)},
	))
	bot, _ := newTestBot(t, conf, provider)

	results, err := bot.Convert(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].DryRun)
	require.Len(t, results[0].Result.Converted, 1)
	assert.Equal(t, "USDT", results[0].Result.Converted[0].Symbol)
	assert.True(t, provider.ex.Balance("USD").Equal(usd(60)))
	assert.True(t, provider.ex.Balance("USDC").Equal(usd(5)), "below minimum stays")
}

func TestIndexBot_Analyze(t *testing.T) {
	bot, _ := newTestBot(t, testConfig(), newFakeProvider())

	stats, err := bot.Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.MarketStats{{Exchange: domain.ExchangeSimulate, Total: 5, InQuote: 4}}, stats)
}

func TestIndexBot_ConfigurationErrors(t *testing.T) {
	t.Run("missing coinmarketcap key", func(t *testing.T) {
		conf := testConfig()
		bot, err := NewIndexBot(zap.NewNop(), conf, withProvider(domain.ExchangeSimulate, newFakeProvider()))
		require.NoError(t, err)

		_, err = bot.Index(context.Background(), domain.IndexStrategyMarketCap, -1)
		assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
	})

	t.Run("missing exchange credentials", func(t *testing.T) {
		conf := testConfig()
		conf.Exchanges = []domain.ExchangeID{domain.ExchangeBinance}
		bot, err := NewIndexBot(zap.NewNop(), conf, WithMarketData(&fakeListings{}))
		require.NoError(t, err)

		_, err = bot.Buy(context.Background(), BuyOptions{})
		assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
	})

	t.Run("invalid config", func(t *testing.T) {
		conf := testConfig()
		conf.PurchaseMin = decimal.Zero
		_, err := NewIndexBot(zap.NewNop(), conf)
		assert.True(t, errors.Is(err, domain.ErrConfiguration))
	})
}

func TestNewServiceProvider(t *testing.T) {
	_, err := newServiceProvider("not a client", zap.NewNop(), "USD", nil)
	assert.Error(t, err)

	for _, id := range []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit, domain.ExchangeSimulate} {
		client, err := newClient(id, config.Default())
		require.NoError(t, err)
		p, err := newServiceProvider(client, zap.NewNop(), "USD", nil)
		require.NoError(t, err)
		assert.NotNil(t, p.Exchange())
		assert.NotNil(t, p.Pricer())
		assert.NotNil(t, p.Klines())
	}
}
