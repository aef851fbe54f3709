// Package portfolio joins exchange holdings with index targets.
package portfolio

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Differ builds portfolio rows.
type Differ struct {
	l                  *zap.Logger
	purchasingCurrency string
}

// NewDiffer creates a Differ. Balances of purchasingCurrency are cash, not holdings,
// and never appear in the rows.
func NewDiffer(l *zap.Logger, purchasingCurrency string) *Differ {
	if l == nil {
		l = zap.NewNop()
	}
	return &Differ{l: l, purchasingCurrency: purchasingCurrency}
}

// Diff returns the union of balance and allocation symbols.
// Rows follow allocation order, then symbols held but outside the index in balance order.
func (d *Differ) Diff(balances []domain.Balance, allocations []domain.TargetAllocation, prices map[string]decimal.Decimal) []domain.PortfolioRow {
	amounts := make(map[string]decimal.Decimal, len(balances))
	heldOrder := make([]string, 0, len(balances))
	for _, balance := range balances {
		if balance.Symbol == d.purchasingCurrency {
			continue
		}
		current, seen := amounts[balance.Symbol]
		if !seen {
			heldOrder = append(heldOrder, balance.Symbol)
		}
		amounts[balance.Symbol] = current.Add(balance.Amount)
	}

	rows := make([]domain.PortfolioRow, 0, len(allocations)+len(heldOrder))
	indexed := make(map[string]struct{}, len(allocations))

	for _, allocation := range allocations {
		if _, dup := indexed[allocation.Symbol]; dup {
			continue
		}
		indexed[allocation.Symbol] = struct{}{}

		amount := amounts[allocation.Symbol]
		rows = append(rows, d.row(allocation.Symbol, amount, allocation.TargetPercentage, prices))
	}

	for _, symbol := range heldOrder {
		if _, ok := indexed[symbol]; ok {
			continue
		}
		rows = append(rows, d.row(symbol, amounts[symbol], decimal.Zero, prices))
	}

	total := domain.TotalUSD(rows)
	if total.IsPositive() {
		for i := range rows {
			rows[i].CurrentPercentage = rows[i].USDTotal.Div(total).Mul(hundred)
		}
	}

	return rows
}

func (d *Differ) row(symbol string, amount, target decimal.Decimal, prices map[string]decimal.Decimal) domain.PortfolioRow {
	price, ok := prices[symbol]
	if !ok && amount.IsPositive() {
		d.l.Warn("price unavailable, valuing holding at zero",
			zap.String("symbol", symbol),
			zap.String("amount", amount.String()),
			zap.Error(domain.ErrMarketDataUnavailable))
	}

	return domain.PortfolioRow{
		Symbol:            symbol,
		Amount:            amount,
		USDPrice:          price,
		USDTotal:          amount.Mul(price),
		CurrentPercentage: decimal.Zero,
		TargetPercentage:  target,
	}
}
