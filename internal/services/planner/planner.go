// Package planner turns portfolio deficits into purchase instructions.
package planner

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"go.uber.org/zap"
)

// Planner plans fixed-size buys toward the index.
type Planner struct {
	l        *zap.Logger
	strategy domain.BuyStrategy
}

// New creates a Planner whose instructions carry strategy.
func New(l *zap.Logger, strategy domain.BuyStrategy) *Planner {
	if l == nil {
		l = zap.NewNop()
	}
	return &Planner{l: l, strategy: strategy}
}

type candidate struct {
	symbol  string
	deficit decimal.Decimal
}

// Plan walks underweight rows by deficit, largest first, and assigns one buy of minimum
// to each row whose proportional share of available covers the minimum.
// The total never exceeds available and no instruction is below minimum.
func (p *Planner) Plan(rows []domain.PortfolioRow, available, minimum decimal.Decimal) []domain.PurchaseInstruction {
	if !minimum.IsPositive() {
		p.l.Warn("non-positive purchase minimum, nothing to plan", zap.String("minimum", minimum.String()))
		return []domain.PurchaseInstruction{}
	}
	if available.LessThan(minimum) {
		p.l.Info("available balance below purchase minimum",
			zap.String("available", available.String()),
			zap.String("minimum", minimum.String()),
			zap.Error(domain.ErrInsufficientBalance))
		return []domain.PurchaseInstruction{}
	}

	candidates := make([]candidate, 0, len(rows))
	totalDeficit := decimal.Zero
	for _, row := range rows {
		deficit := row.Deficit()
		if !deficit.IsPositive() {
			continue
		}
		candidates = append(candidates, candidate{symbol: row.Symbol, deficit: deficit})
		totalDeficit = totalDeficit.Add(deficit)
	}

	if len(candidates) == 0 {
		p.l.Info("portfolio matches index, nothing to buy")
		return []domain.PurchaseInstruction{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if cmp := candidates[i].deficit.Cmp(candidates[j].deficit); cmp != 0 {
			return cmp > 0
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	instructions := make([]domain.PurchaseInstruction, 0, len(candidates))
	remaining := available

	for _, c := range candidates {
		if remaining.LessThan(minimum) {
			break
		}

		share := c.deficit.Mul(available).Div(totalDeficit)
		if share.LessThan(minimum) {
			p.l.Debug("share below purchase minimum, skipping",
				zap.String("symbol", c.symbol),
				zap.String("deficit", c.deficit.String()),
				zap.String("share", share.String()))
			continue
		}

		instructions = append(instructions, domain.PurchaseInstruction{
			Symbol:   c.symbol,
			Amount:   minimum,
			Strategy: p.strategy,
		})
		remaining = remaining.Sub(minimum)
	}

	p.l.Info("purchase plan",
		zap.Int("instructions", len(instructions)),
		zap.String("total", domain.TotalAmount(instructions).String()),
		zap.String("available", available.String()))

	return instructions
}
