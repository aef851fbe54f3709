package domain

import "github.com/shopspring/decimal"

// CoinMarketRecord market data for a single coin, as ranked by the market data provider.
type CoinMarketRecord struct {
	Symbol string
	// Quote currency the market cap is expressed in.
	Quote            string
	MarketCap        decimal.Decimal
	PercentChange7d  float64
	PercentChange30d float64
	Tags             map[string]struct{}
}

// NewCoinMarketRecord builds a record with its tag set.
func NewCoinMarketRecord(symbol, quote string, marketCap decimal.Decimal, change7d, change30d float64, tags ...string) CoinMarketRecord {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}

	return CoinMarketRecord{
		Symbol:           symbol,
		Quote:            quote,
		MarketCap:        marketCap,
		PercentChange7d:  change7d,
		PercentChange30d: change30d,
		Tags:             set,
	}
}

// HasAnyTag reports the first tag of the record that is in tags.
func (c CoinMarketRecord) HasAnyTag(tags map[string]struct{}) (string, bool) {
	for tag := range c.Tags {
		if _, ok := tags[tag]; ok {
			return tag, true
		}
	}
	return "", false
}

// TargetAllocation target share of the index for a symbol.
type TargetAllocation struct {
	Symbol string
	// TargetPercentage in [0, 100].
	TargetPercentage decimal.Decimal
	MarketCap        decimal.Decimal
	PercentChange7d  float64
	PercentChange30d float64
}

// Market tradable pair listed on an exchange.
type Market struct {
	Exchange ExchangeID
	Pair     Pair
	// Status normalized to MarketStatusTrading when the pair accepts orders.
	Status string
}

// MarketStatusTrading status of a pair that accepts orders.
const MarketStatusTrading = "TRADING"

// IsTrading reports whether the market accepts orders.
func (m Market) IsTrading() bool {
	return m.Status == MarketStatusTrading
}

// MarketStats counts the pairs an exchange lists, overall and against the purchasing currency.
type MarketStats struct {
	Exchange ExchangeID
	Total    int
	InQuote  int
}
