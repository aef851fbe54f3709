// Package exchange adapts spot exchanges to the operations the index bot needs.
package exchange

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
)

// Adapter spot exchange account trading against a single purchasing currency.
type Adapter interface {
	ID() domain.ExchangeID
	// ListMarkets returns every listed pair with its trading status.
	ListMarkets(ctx context.Context) ([]domain.Market, error)
	GetBalances(ctx context.Context) ([]domain.Balance, error)
	// GetOpenOrders returns open BUY orders.
	GetOpenOrders(ctx context.Context) ([]domain.ExecutedOrder, error)
	GetSymbolTradingRule(ctx context.Context, symbol string) (domain.TradingRule, error)
	// SubmitOrder buys symbol for amount of purchasing currency.
	SubmitOrder(ctx context.Context, symbol string, amount decimal.Decimal, strategy domain.BuyStrategy) (domain.ExecutedOrder, error)
	CancelOrder(ctx context.Context, symbol, id string) error
	// Convert sells amount of from into the purchasing currency.
	Convert(ctx context.Context, from string, amount decimal.Decimal) (domain.ExecutedOrder, error)
}

// PriceLookup prices symbols in the purchasing currency.
type PriceLookup interface {
	Lookup(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

const clientOrderPrefix = "idx"

// newClientOrderID fits Binance's 36 character limit.
func newClientOrderID() string {
	return clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// priceOf returns the price of symbol or an error wrapping ErrMarketDataUnavailable.
func priceOf(ctx context.Context, pricer PriceLookup, symbol string) (decimal.Decimal, error) {
	prices, err := pricer.Lookup(ctx, []string{symbol})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[symbol]
	if !ok || !price.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrMarketDataUnavailable, "no price for %s", symbol)
	}
	return price, nil
}

// avgPrice returns quote spent per unit of base, zero when nothing filled.
func avgPrice(quoteSpent, baseFilled decimal.Decimal) decimal.Decimal {
	if !baseFilled.IsPositive() {
		return decimal.Zero
	}
	return quoteSpent.Div(baseFilled)
}

// quotedIn returns the base asset of an exchange symbol listed against quote.
// Symbols are resolved through the listing, never by trimming the quote suffix.
func quotedIn(pairs map[string]domain.Pair, symbol, quote string) (string, bool) {
	pair, ok := pairs[symbol]
	if !ok || !strings.EqualFold(pair.To, quote) {
		return "", false
	}
	return pair.From, true
}

func sortBalances(balances []domain.Balance) {
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Symbol < balances[j].Symbol
	})
}
