// Package universe narrows the ranked coin list down to the coins the index may hold.
package universe

import (
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"go.uber.org/zap"
)

// Unlimited limit value that keeps every surviving record.
const Unlimited = -1

// TradabilityChecker answers whether base can be bought with quote on an exchange.
type TradabilityChecker interface {
	CanBuy(exchange domain.ExchangeID, base, quote string) bool
}

// Filter drops excluded and untradable coins from a ranked list.
type Filter struct {
	l       *zap.Logger
	checker TradabilityChecker
}

// NewFilter creates a Filter.
func NewFilter(l *zap.Logger, checker TradabilityChecker) *Filter {
	if l == nil {
		l = zap.NewNop()
	}
	return &Filter{l: l, checker: checker}
}

// Filter walks records in their given order and keeps a record unless it carries an
// excluded tag, its symbol is excluded, or no listed exchange trades it against
// purchasingCurrency. It stops after limit records; a negative limit is unbounded.
func (f *Filter) Filter(
	records []domain.CoinMarketRecord,
	purchasingCurrency string,
	exchanges []domain.ExchangeID,
	excludeTags map[string]struct{},
	excludeSymbols map[string]struct{},
	limit int,
) []domain.CoinMarketRecord {
	coins := make([]domain.CoinMarketRecord, 0)
	if limit == 0 {
		return coins
	}

	for _, record := range records {
		if tag, ok := record.HasAnyTag(excludeTags); ok {
			f.l.Debug("skipping, includes excluded tag", zap.String("symbol", record.Symbol), zap.String("tag", tag))
			continue
		}

		if _, ok := excludeSymbols[record.Symbol]; ok {
			f.l.Debug("coin symbol excluded", zap.String("symbol", record.Symbol))
			continue
		}

		if !f.tradable(record.Symbol, purchasingCurrency, exchanges) {
			f.l.Debug("coin cannot be purchased in exchange",
				zap.String("symbol", record.Symbol),
				zap.Any("exchanges", exchanges))
			continue
		}

		coins = append(coins, record)

		if limit > 0 && len(coins) == limit {
			break
		}
	}

	f.l.Info("filtered coin list, used for index", zap.Int("coin_count", len(coins)))

	return coins
}

func (f *Filter) tradable(symbol, quote string, exchanges []domain.ExchangeID) bool {
	if f.checker == nil {
		return false
	}
	for _, exchange := range exchanges {
		if f.checker.CanBuy(exchange, symbol, quote) {
			return true
		}
	}
	return false
}

// Markets tradability snapshot built from exchange listings.
type Markets struct {
	trading map[domain.ExchangeID]map[domain.Pair]struct{}
	listed  map[domain.ExchangeID]map[domain.Pair]struct{}
}

// NewMarkets indexes listed markets by exchange and pair.
func NewMarkets(markets ...domain.Market) *Markets {
	m := &Markets{
		trading: make(map[domain.ExchangeID]map[domain.Pair]struct{}),
		listed:  make(map[domain.ExchangeID]map[domain.Pair]struct{}),
	}
	for _, market := range markets {
		m.add(market)
	}
	return m
}

func (m *Markets) add(market domain.Market) {
	if m.listed[market.Exchange] == nil {
		m.listed[market.Exchange] = make(map[domain.Pair]struct{})
		m.trading[market.Exchange] = make(map[domain.Pair]struct{})
	}
	m.listed[market.Exchange][market.Pair] = struct{}{}
	if market.IsTrading() {
		m.trading[market.Exchange][market.Pair] = struct{}{}
	}
}

// CanBuy implements TradabilityChecker.
func (m *Markets) CanBuy(exchange domain.ExchangeID, base, quote string) bool {
	_, ok := m.trading[exchange][domain.Pair{From: base, To: quote}]
	return ok
}

// Stats counts distinct base assets an exchange lists, overall and against quote.
func (m *Markets) Stats(exchange domain.ExchangeID, quote string) (all int, inQuote int) {
	bases := make(map[string]struct{})
	quoted := make(map[string]struct{})
	for pair := range m.listed[exchange] {
		bases[pair.From] = struct{}{}
		if pair.To == quote {
			quoted[pair.From] = struct{}{}
		}
	}
	return len(bases), len(quoted)
}
