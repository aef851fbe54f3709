// Package pricer looks up spot prices in the purchasing currency.
package pricer

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
)

// Pricer resolves symbols to prices in the purchasing currency.
// Symbols without a price are absent from the result.
type Pricer interface {
	Lookup(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// quoteBook maps ticker prices to symbols priced in quote.
type quoteBook struct {
	quote       string
	stablecoins map[string]struct{}
}

func newQuoteBook(quote string, stablecoins []string) quoteBook {
	set := make(map[string]struct{}, len(stablecoins))
	for _, s := range stablecoins {
		set[s] = struct{}{}
	}
	return quoteBook{quote: quote, stablecoins: set}
}

// resolve picks prices from tickers keyed by pair symbol (BTCUSDT).
// The quote itself is worth 1, stablecoins without a ticker too.
func (b quoteBook) resolve(symbols []string, tickers map[string]decimal.Decimal) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		if symbol == b.quote {
			prices[symbol] = decimal.NewFromInt(1)
			continue
		}
		if price, ok := tickers[domain.NewPair(symbol, b.quote).Symbol()]; ok && price.IsPositive() {
			prices[symbol] = price
			continue
		}
		if _, stable := b.stablecoins[symbol]; stable {
			prices[symbol] = decimal.NewFromInt(1)
		}
	}
	return prices
}

// needsTickers reports whether any symbol requires a network lookup.
func (b quoteBook) needsTickers(symbols []string) bool {
	for _, symbol := range symbols {
		if symbol != b.quote {
			return true
		}
	}
	return false
}
