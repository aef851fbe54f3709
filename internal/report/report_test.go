package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatMarkdown, "MD": FormatMarkdown, "csv": FormatCSV, "pretty": FormatPretty} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("html")
	assert.Error(t, err)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$1,234.57", Money(d("1234.567"), "USD"))
	assert.Equal(t, "$0.00", Money(decimal.Zero, "usd"))
	assert.Equal(t, "12.30 XYZ", Money(d("12.3"), "XYZ"))
}

func TestMarkdown(t *testing.T) {
	md := Markdown(IndexTable([]domain.TargetAllocation{
		{Symbol: "BTC", TargetPercentage: d("60"), MarketCap: d("600"), PercentChange7d: 1.5, PercentChange30d: -2},
		{Symbol: "ETH", TargetPercentage: d("40"), MarketCap: d("400")},
	}, "USD"))

	want := strings.Join([]string{
		"## Index",
		"",
		"| # | Symbol | Target | Market Cap | 7d | 30d |",
		"| --- | --- | --- | --- | --- | --- |",
		"| 1 | BTC | 60.00% | $600.00 | 1.50% | -2.00% |",
		"| 2 | ETH | 40.00% | $400.00 | 0.00% | 0.00% |",
		"",
	}, "\n")
	assert.Equal(t, want, md)
}

func TestRender_CSV(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, FormatCSV,
		PlanTable([]domain.PurchaseInstruction{{Symbol: "ADA", Amount: d("10"), Strategy: domain.BuyStrategyMarket}}, "USD"),
		AnalyzeTable([]domain.MarketStats{{Exchange: domain.ExchangeBinance, Total: 300, InQuote: 120}}, "USD"),
	)
	require.NoError(t, err)

	want := "Symbol,Amount,Strategy\nADA,$10.00,market\n\nExchange,Coins,Coins in USD\nbinance,300,120\n"
	assert.Equal(t, want, buf.String())
}

func TestRender_Pretty(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, FormatPretty, BalanceTable(domain.ExchangeBybit, d("55"), d("1000"), "USD"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Purchasing balance")
	assert.Contains(t, buf.String(), "$1,000.00")
}

func TestSummaryTable(t *testing.T) {
	summary := domain.RunSummary{
		Executed: []domain.ExecutedOrder{{Symbol: "BTC", Quantity: d("0.001"), Price: d("50000"), ID: "42"}},
		Failed:   []domain.FailedOrder{{Instruction: domain.PurchaseInstruction{Symbol: "ETH"}, Err: errors.New("rejected")}},
		Dropped:  []domain.FailedOrder{{Instruction: domain.PurchaseInstruction{Symbol: "DOT"}, Err: domain.ErrTradingRuleViolation}},
	}

	table := SummaryTable(summary, "USD")
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []string{"BTC", "placed", "0.001", "$50,000.00", "42"}, table.Rows[0])
	assert.Equal(t, []string{"ETH", "failed", "", "", "rejected"}, table.Rows[1])
	assert.Equal(t, "dropped", table.Rows[2][1])
}

func TestPortfolioTable(t *testing.T) {
	table := PortfolioTable([]domain.PortfolioRow{{
		Symbol:            "SOL",
		Amount:            d("2"),
		USDPrice:          d("150"),
		USDTotal:          d("300"),
		CurrentPercentage: d("10"),
		TargetPercentage:  d("15"),
	}}, "USD")

	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"SOL", "2", "$150.00", "$300.00", "10.00%", "15.00%", "5.00%"}, table.Rows[0])
}

func TestMarkdown_EscapesPipes(t *testing.T) {
	md := Markdown(Table{Header: []string{"a"}, Rows: [][]string{{"x|y"}}})
	assert.Contains(t, md, `| x\|y |`)
}
