package universe

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"go.uber.org/zap"
)

func record(symbol string, marketCap int64, tags ...string) domain.CoinMarketRecord {
	return domain.NewCoinMarketRecord(symbol, "USD", decimal.NewFromInt(marketCap), 0, 0, tags...)
}

func trading(exchange domain.ExchangeID, base, quote string) domain.Market {
	return domain.Market{Exchange: exchange, Pair: domain.Pair{From: base, To: quote}, Status: domain.MarketStatusTrading}
}

func symbols(records []domain.CoinMarketRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Symbol)
	}
	return out
}

func set(values ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func TestFilter_ExcludesTagsSymbolsAndUntradable(t *testing.T) {
	markets := NewMarkets(
		trading(domain.ExchangeBinance, "BTC", "USD"),
		trading(domain.ExchangeBinance, "USDT", "USD"),
		trading(domain.ExchangeBinance, "ETH", "USD"),
		trading(domain.ExchangeBinance, "ADA", "USD"),
		trading(domain.ExchangeBybit, "SOL", "USD"),
		domain.Market{Exchange: domain.ExchangeBinance, Pair: domain.Pair{From: "DOT", To: "USD"}, Status: "BREAK"},
		trading(domain.ExchangeBinance, "XRP", "USDT"),
	)

	records := []domain.CoinMarketRecord{
		record("BTC", 1000),
		record("USDT", 900, "stablecoin"),
		record("ETH", 800),
		record("XRP", 700),
		record("ADA", 600),
		record("SOL", 500),
		record("DOT", 400),
	}

	f := NewFilter(zap.NewNop(), markets)
	coins := f.Filter(records, "USD", []domain.ExchangeID{domain.ExchangeBinance}, set("stablecoin"), set("ETH"), Unlimited)

	assert.Equal(t, []string{"BTC", "ADA"}, symbols(coins))
}

func TestFilter_AnyExchangeIsEnough(t *testing.T) {
	markets := NewMarkets(
		trading(domain.ExchangeBinance, "BTC", "USD"),
		trading(domain.ExchangeBybit, "SOL", "USD"),
	)
	records := []domain.CoinMarketRecord{record("BTC", 10), record("SOL", 5)}

	f := NewFilter(zap.NewNop(), markets)
	coins := f.Filter(records, "USD", []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, nil, nil, Unlimited)

	assert.Equal(t, []string{"BTC", "SOL"}, symbols(coins))
}

func TestFilter_Limit(t *testing.T) {
	markets := NewMarkets(
		trading(domain.ExchangeBinance, "BTC", "USD"),
		trading(domain.ExchangeBinance, "ETH", "USD"),
		trading(domain.ExchangeBinance, "ADA", "USD"),
	)
	records := []domain.CoinMarketRecord{record("BTC", 3), record("ETH", 2), record("ADA", 1)}
	exchanges := []domain.ExchangeID{domain.ExchangeBinance}
	f := NewFilter(zap.NewNop(), markets)

	t.Run("truncates after limit survivors", func(t *testing.T) {
		assert.Equal(t, []string{"BTC", "ETH"}, symbols(f.Filter(records, "USD", exchanges, nil, nil, 2)))
	})

	t.Run("skipped records do not count against limit", func(t *testing.T) {
		assert.Equal(t, []string{"ETH", "ADA"}, symbols(f.Filter(records, "USD", exchanges, nil, set("BTC"), 2)))
	})

	t.Run("zero keeps nothing", func(t *testing.T) {
		assert.Empty(t, f.Filter(records, "USD", exchanges, nil, nil, 0))
	})

	t.Run("negative is unbounded", func(t *testing.T) {
		assert.Len(t, f.Filter(records, "USD", exchanges, nil, nil, Unlimited), 3)
	})
}

func TestFilter_StablecoinExcludedRegardlessOfRank(t *testing.T) {
	markets := NewMarkets(trading(domain.ExchangeBinance, "USDT", "USD"), trading(domain.ExchangeBinance, "BTC", "USD"))
	records := []domain.CoinMarketRecord{record("USDT", 1_000_000, "stablecoin", "asset-backed-stablecoins"), record("BTC", 1)}

	f := NewFilter(zap.NewNop(), markets)
	coins := f.Filter(records, "USD", []domain.ExchangeID{domain.ExchangeBinance}, set("stablecoin"), nil, 1)

	require.Len(t, coins, 1)
	assert.Equal(t, "BTC", coins[0].Symbol)
}

func TestFilter_NeverReturnsExcluded(t *testing.T) {
	var list []domain.Market
	var records []domain.CoinMarketRecord
	for i, s := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		list = append(list, trading(domain.ExchangeBinance, s, "USD"))
		tag := "layer-1"
		if i%3 == 0 {
			tag = "memes"
		}
		records = append(records, record(s, int64(100-i), tag))
	}
	excludedTags := set("memes")
	excludedSymbols := set("B", "F")

	f := NewFilter(zap.NewNop(), NewMarkets(list...))
	coins := f.Filter(records, "USD", []domain.ExchangeID{domain.ExchangeBinance}, excludedTags, excludedSymbols, Unlimited)

	require.NotEmpty(t, coins)
	for _, coin := range coins {
		_, excluded := excludedSymbols[coin.Symbol]
		assert.False(t, excluded, coin.Symbol)
		_, tagged := coin.HasAnyTag(excludedTags)
		assert.False(t, tagged, coin.Symbol)
	}
}

func TestMarkets_Stats(t *testing.T) {
	markets := NewMarkets(
		trading(domain.ExchangeBinance, "BTC", "USD"),
		trading(domain.ExchangeBinance, "BTC", "USDT"),
		trading(domain.ExchangeBinance, "ETH", "USDT"),
		domain.Market{Exchange: domain.ExchangeBinance, Pair: domain.Pair{From: "DOT", To: "USD"}, Status: "BREAK"},
	)

	all, inQuote := markets.Stats(domain.ExchangeBinance, "USD")
	assert.Equal(t, 3, all)
	assert.Equal(t, 2, inQuote)
	assert.False(t, markets.CanBuy(domain.ExchangeBinance, "DOT", "USD"))
}
