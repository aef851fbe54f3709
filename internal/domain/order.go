package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PurchaseInstruction planned buy of Symbol for Amount of purchasing currency.
type PurchaseInstruction struct {
	Symbol   string
	Amount   decimal.Decimal
	Strategy BuyStrategy
}

// String returns a human-readable string representation.
func (p PurchaseInstruction) String() string {
	return fmt.Sprintf("%s %s %s", p.Strategy.String(), p.Symbol, p.Amount.String())
}

// TotalAmount sums instruction amounts.
func TotalAmount(instructions []PurchaseInstruction) decimal.Decimal {
	total := decimal.Zero
	for _, instruction := range instructions {
		total = total.Add(instruction.Amount)
	}
	return total
}

// ExecutedOrder order as reported by an exchange.
type ExecutedOrder struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	// CreatedAt unix seconds.
	CreatedAt   int64
	TimeInForce string
	Side        OrderSide
	Exchange    ExchangeID
	ID          string
}

// Age returns how long ago the order was created relative to now (unix seconds).
func (o ExecutedOrder) Age(now int64) int64 {
	return now - o.CreatedAt
}

// TradingRule exchange constraints for buying a symbol with the purchasing currency.
type TradingRule struct {
	Tradable       bool
	QuotePrecision int
	// StepSize lot size increment, e.g. 0.001.
	StepSize decimal.Decimal
	// TickSize price increment, zero when unknown.
	TickSize decimal.Decimal
}

// stepPrecision returns round(-log10(step)).
func stepPrecision(step decimal.Decimal) (int, bool) {
	if step.LessThanOrEqual(decimal.Zero) {
		return 0, false
	}
	return int(math.Round(-math.Log10(step.InexactFloat64()))), true
}

// Precision returns the number of decimal digits accepted for an order amount:
// the smaller of the quote asset precision and the step size precision.
func (r TradingRule) Precision() int {
	precision, ok := stepPrecision(r.StepSize)
	if !ok || r.QuotePrecision < precision {
		return r.QuotePrecision
	}
	return precision
}

// Normalize drops digits beyond Precision. Never rounds up.
func (r TradingRule) Normalize(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundDown(int32(r.Precision()))
}

// NormalizePrice drops price digits beyond the tick size.
func (r TradingRule) NormalizePrice(price decimal.Decimal) decimal.Decimal {
	precision, ok := stepPrecision(r.TickSize)
	if !ok {
		return price
	}
	return price.RoundDown(int32(precision))
}

// NormalizeQuantity drops base quantity digits beyond the step size.
func (r TradingRule) NormalizeQuantity(quantity decimal.Decimal) decimal.Decimal {
	precision, ok := stepPrecision(r.StepSize)
	if !ok {
		return quantity
	}
	return quantity.RoundDown(int32(precision))
}

// FailedOrder instruction that could not be executed.
type FailedOrder struct {
	Instruction PurchaseInstruction
	Err         error
}

// RunSummary outcome of executing a plan.
type RunSummary struct {
	Executed []ExecutedOrder
	Failed   []FailedOrder
	// Dropped instructions that violated trading rules and were never submitted.
	Dropped []FailedOrder
}

// Succeeded reports whether every instruction was executed.
func (s RunSummary) Succeeded() bool {
	return len(s.Failed) == 0 && len(s.Dropped) == 0
}

// ExecutedSymbols returns the symbols of executed orders in execution order.
func (s RunSummary) ExecutedSymbols() []string {
	symbols := make([]string, 0, len(s.Executed))
	for _, order := range s.Executed {
		symbols = append(symbols, order.Symbol)
	}
	return symbols
}

// FailedSymbols returns the symbols of failed and dropped instructions.
func (s RunSummary) FailedSymbols() []string {
	symbols := make([]string, 0, len(s.Failed)+len(s.Dropped))
	for _, failed := range s.Failed {
		symbols = append(symbols, failed.Instruction.Symbol)
	}
	for _, dropped := range s.Dropped {
		symbols = append(symbols, dropped.Instruction.Symbol)
	}
	return symbols
}
