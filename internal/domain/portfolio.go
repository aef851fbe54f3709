package domain

import "github.com/shopspring/decimal"

// Balance amount of a symbol held on an exchange.
type Balance struct {
	Symbol string
	Amount decimal.Decimal
}

// PortfolioRow holding joined with its index target.
// CurrentPercentage and TargetPercentage are computed independently.
type PortfolioRow struct {
	Symbol            string
	Amount            decimal.Decimal
	USDPrice          decimal.Decimal
	USDTotal          decimal.Decimal
	CurrentPercentage decimal.Decimal
	TargetPercentage  decimal.Decimal
}

// Deficit returns target minus current percentage, positive when underweight.
func (r PortfolioRow) Deficit() decimal.Decimal {
	return r.TargetPercentage.Sub(r.CurrentPercentage)
}

// TotalUSD sums USDTotal over rows.
func TotalUSD(rows []PortfolioRow) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.USDTotal)
	}
	return total
}
