// Package converter sells stablecoin balances into the purchasing currency.
package converter

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/internal/services/exchange"
	"go.uber.org/zap"
)

// DefaultStablecoins converted when none are configured.
var DefaultStablecoins = []string{"USDT", "USDC", "BUSD", "DAI", "TUSD", "USDP"}

// Failure conversion that could not be performed.
type Failure struct {
	Symbol string
	Amount decimal.Decimal
	Err    error
}

// Result of a conversion pass.
type Result struct {
	Converted []domain.ExecutedOrder
	Failed    []Failure
}

// Converter converts stablecoins through an exchange.
type Converter struct {
	l                  *zap.Logger
	stablecoins        map[string]struct{}
	purchasingCurrency string
	minimum            decimal.Decimal
}

func New(l *zap.Logger, stablecoins []string, purchasingCurrency string, minimum decimal.Decimal) *Converter {
	if l == nil {
		l = zap.NewNop()
	}
	if len(stablecoins) == 0 {
		stablecoins = DefaultStablecoins
	}
	set := make(map[string]struct{}, len(stablecoins))
	for _, s := range stablecoins {
		set[s] = struct{}{}
	}
	return &Converter{l: l, stablecoins: set, purchasingCurrency: purchasingCurrency, minimum: minimum}
}

// Convert sells every stablecoin balance of at least the minimum. Failures are collected.
func (c *Converter) Convert(ctx context.Context, ex exchange.Adapter, balances []domain.Balance) Result {
	var result Result

	for _, balance := range balances {
		if _, ok := c.stablecoins[balance.Symbol]; !ok || balance.Symbol == c.purchasingCurrency {
			continue
		}
		if balance.Amount.LessThan(c.minimum) {
			c.l.Debug("stablecoin balance below minimum, not converting",
				zap.String("symbol", balance.Symbol),
				zap.String("amount", balance.Amount.String()))
			continue
		}

		order, err := ex.Convert(ctx, balance.Symbol, balance.Amount)
		if err != nil {
			c.l.Warn("failed to convert stablecoin",
				zap.String("symbol", balance.Symbol),
				zap.String("amount", balance.Amount.String()),
				zap.String("to", c.purchasingCurrency),
				zap.Error(err))
			result.Failed = append(result.Failed, Failure{Symbol: balance.Symbol, Amount: balance.Amount, Err: err})
			continue
		}

		c.l.Info("converted stablecoin",
			zap.String("symbol", balance.Symbol),
			zap.String("amount", balance.Amount.String()),
			zap.String("to", c.purchasingCurrency))
		result.Converted = append(result.Converted, order)
	}

	return result
}
