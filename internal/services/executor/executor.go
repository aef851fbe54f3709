// Package executor submits purchase instructions to an exchange.
package executor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/internal/services/exchange"
	"go.uber.org/zap"
)

// Executor runs plans sequentially. A failed order never stops the run.
type Executor struct {
	l       *zap.Logger
	minimum decimal.Decimal
}

func New(l *zap.Logger, minimum decimal.Decimal) *Executor {
	if l == nil {
		l = zap.NewNop()
	}
	return &Executor{l: l, minimum: minimum}
}

// Execute normalizes each instruction to the exchange trading rule and submits it.
// Instructions that are not tradable or fall below the minimum after rounding are dropped.
func (e *Executor) Execute(ctx context.Context, instructions []domain.PurchaseInstruction, ex exchange.Adapter, strategy domain.BuyStrategy) domain.RunSummary {
	summary := domain.RunSummary{}

	for _, instruction := range instructions {
		if err := ctx.Err(); err != nil {
			summary.Failed = append(summary.Failed, domain.FailedOrder{Instruction: instruction, Err: err})
			continue
		}

		orderStrategy := strategy
		if !orderStrategy.IsValid() {
			orderStrategy = instruction.Strategy
		}

		rule, err := ex.GetSymbolTradingRule(ctx, instruction.Symbol)
		if err != nil {
			e.l.Error("failed to get trading rule", zap.String("symbol", instruction.Symbol), zap.Error(err))
			summary.Failed = append(summary.Failed, domain.FailedOrder{
				Instruction: instruction,
				Err:         errors.Wrapf(domain.ErrOrderSubmission, "trading rule for %s: %s", instruction.Symbol, err),
			})
			continue
		}

		if !rule.Tradable {
			e.drop(&summary, instruction, errors.Wrapf(domain.ErrTradingRuleViolation, "%s is not tradable on %s", instruction.Symbol, ex.ID()))
			continue
		}

		amount := rule.Normalize(instruction.Amount)
		if amount.LessThan(e.minimum) {
			e.drop(&summary, instruction, errors.Wrapf(domain.ErrTradingRuleViolation,
				"%s amount %s rounds to %s, below minimum %s", instruction.Symbol, instruction.Amount, amount, e.minimum))
			continue
		}

		e.l.Info("submitting order",
			zap.String("exchange", ex.ID().String()),
			zap.String("symbol", instruction.Symbol),
			zap.String("amount", amount.String()),
			zap.String("strategy", orderStrategy.String()))

		order, err := ex.SubmitOrder(ctx, instruction.Symbol, amount, orderStrategy)
		if err != nil {
			e.l.Error("order failed", zap.String("symbol", instruction.Symbol), zap.Error(err))
			summary.Failed = append(summary.Failed, domain.FailedOrder{
				Instruction: instruction,
				Err:         errors.Wrapf(domain.ErrOrderSubmission, "%s: %s", instruction.Symbol, err),
			})
			continue
		}

		summary.Executed = append(summary.Executed, order)
	}

	e.l.Info("execution finished",
		zap.Int("executed", len(summary.Executed)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("dropped", len(summary.Dropped)))

	return summary
}

func (e *Executor) drop(summary *domain.RunSummary, instruction domain.PurchaseInstruction, err error) {
	e.l.Warn("dropping instruction", zap.String("symbol", instruction.Symbol), zap.Error(err))
	summary.Dropped = append(summary.Dropped, domain.FailedOrder{Instruction: instruction, Err: err})
}

// CancelStale cancels open buy orders older than maxAge and returns the canceled ones.
// Cancel failures are logged and skipped.
func (e *Executor) CancelStale(ctx context.Context, ex exchange.Adapter, maxAge time.Duration, now time.Time) ([]domain.ExecutedOrder, error) {
	orders, err := ex.GetOpenOrders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open orders")
	}

	threshold := int64(maxAge / time.Second)
	canceled := make([]domain.ExecutedOrder, 0)

	for _, order := range orders {
		if order.Side != domain.OrderSideBuy || order.Age(now.Unix()) <= threshold {
			continue
		}

		if err := ex.CancelOrder(ctx, order.Symbol, order.ID); err != nil {
			e.l.Warn("failed to cancel stale order",
				zap.String("symbol", order.Symbol),
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}

		e.l.Info("canceled stale order",
			zap.String("symbol", order.Symbol),
			zap.String("order_id", order.ID),
			zap.Int64("age_seconds", order.Age(now.Unix())))
		canceled = append(canceled, order)
	}

	return canceled, nil
}
