package report

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
)

// IndexTable target allocations in rank order.
func IndexTable(allocations []domain.TargetAllocation, currency string) Table {
	t := Table{
		Title:  "Index",
		Header: []string{"#", "Symbol", "Target", "Market Cap", "7d", "30d"},
	}
	for i, a := range allocations {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(i + 1),
			a.Symbol,
			Percent(a.TargetPercentage),
			Money(a.MarketCap, currency),
			percentFloat(a.PercentChange7d),
			percentFloat(a.PercentChange30d),
		})
	}
	return t
}

// PortfolioTable holdings with their current and target share.
func PortfolioTable(rows []domain.PortfolioRow, currency string) Table {
	t := Table{
		Title:  "Portfolio",
		Header: []string{"Symbol", "Amount", "Price", "Value", "Current", "Target", "Deficit"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Symbol,
			r.Amount.String(),
			Money(r.USDPrice, currency),
			Money(r.USDTotal, currency),
			Percent(r.CurrentPercentage),
			Percent(r.TargetPercentage),
			Percent(r.Deficit()),
		})
	}
	return t
}

// BalanceTable purchasing balance and portfolio total.
func BalanceTable(exchange domain.ExchangeID, purchasing, total decimal.Decimal, currency string) Table {
	return Table{
		Title:  "Balance (" + exchange.String() + ")",
		Header: []string{"", "Value"},
		Rows: [][]string{
			{"Purchasing balance", Money(purchasing, currency)},
			{"Portfolio total", Money(total, currency)},
		},
	}
}

// PlanTable purchase instructions.
func PlanTable(instructions []domain.PurchaseInstruction, currency string) Table {
	t := Table{
		Title:  "Purchases",
		Header: []string{"Symbol", "Amount", "Strategy"},
	}
	for _, in := range instructions {
		t.Rows = append(t.Rows, []string{in.Symbol, Money(in.Amount, currency), in.Strategy.String()})
	}
	return t
}

// SummaryTable outcome of an execution run.
func SummaryTable(summary domain.RunSummary, currency string) Table {
	t := Table{
		Title:  "Orders",
		Header: []string{"Symbol", "Status", "Quantity", "Price", "Detail"},
	}
	for _, o := range summary.Executed {
		t.Rows = append(t.Rows, []string{o.Symbol, "placed", o.Quantity.String(), Money(o.Price, currency), o.ID})
	}
	for _, f := range summary.Failed {
		t.Rows = append(t.Rows, []string{f.Instruction.Symbol, "failed", "", "", errString(f.Err)})
	}
	for _, f := range summary.Dropped {
		t.Rows = append(t.Rows, []string{f.Instruction.Symbol, "dropped", "", "", errString(f.Err)})
	}
	return t
}

// OrdersTable open or cancelled orders.
func OrdersTable(title string, orders []domain.ExecutedOrder, currency string) Table {
	t := Table{
		Title:  title,
		Header: []string{"Symbol", "ID", "Quantity", "Price", "Created"},
	}
	for _, o := range orders {
		t.Rows = append(t.Rows, []string{
			o.Symbol, o.ID, o.Quantity.String(), Money(o.Price, currency), strconv.FormatInt(o.CreatedAt, 10),
		})
	}
	return t
}

// ConversionTable stablecoin conversions.
func ConversionTable(orders []domain.ExecutedOrder) Table {
	t := Table{
		Title:  "Conversions",
		Header: []string{"Symbol", "Quantity", "ID"},
	}
	for _, o := range orders {
		t.Rows = append(t.Rows, []string{o.Symbol, o.Quantity.String(), o.ID})
	}
	return t
}

// AnalyzeTable coins available per exchange.
func AnalyzeTable(stats []domain.MarketStats, currency string) Table {
	t := Table{
		Title:  "Exchanges",
		Header: []string{"Exchange", "Coins", "Coins in " + currency},
	}
	for _, s := range stats {
		t.Rows = append(t.Rows, []string{s.Exchange.String(), strconv.Itoa(s.Total), strconv.Itoa(s.InQuote)})
	}
	return t
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
