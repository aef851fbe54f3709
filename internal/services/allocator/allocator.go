// Package allocator turns a filtered coin universe into index target percentages.
package allocator

import (
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/pkg/indicators"
	"go.uber.org/zap"
)

const (
	percentageMultiplier = 100
	defaultSMAPeriod     = 30
)

var hundred = decimal.NewFromInt(percentageMultiplier)

// Allocator computes target allocations.
type Allocator struct {
	l         *zap.Logger
	history   map[string][]decimal.Decimal
	smaPeriod int
}

// Option configures the Allocator.
type Option func(*Allocator)

// WithHistory sets historical market cap series by symbol, oldest first. Used by the SMA strategy.
func WithHistory(history map[string][]decimal.Decimal) Option {
	return func(a *Allocator) {
		a.history = history
	}
}

// WithSMAPeriod sets the SMA window length.
func WithSMAPeriod(period int) Option {
	return func(a *Allocator) {
		if period > 0 {
			a.smaPeriod = period
		}
	}
}

// New creates an Allocator.
func New(l *zap.Logger, opts ...Option) *Allocator {
	if l == nil {
		l = zap.NewNop()
	}
	a := &Allocator{l: l, smaPeriod: defaultSMAPeriod}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns one allocation per usable record, in input order.
// Records quoted in another currency or without a market cap are left out.
func (a *Allocator) Allocate(records []domain.CoinMarketRecord, strategy domain.IndexStrategy, purchasingCurrency string) ([]domain.TargetAllocation, error) {
	if !strategy.IsValid() {
		return nil, errors.Wrapf(domain.ErrConfiguration, "unknown index strategy %q", strategy)
	}

	usable := make([]domain.CoinMarketRecord, 0, len(records))
	weights := make([]decimal.Decimal, 0, len(records))
	total := decimal.Zero

	for _, record := range records {
		if record.Quote != "" && record.Quote != purchasingCurrency {
			a.l.Warn("market cap quoted in another currency, excluding from index",
				zap.String("symbol", record.Symbol),
				zap.String("quote", record.Quote),
				zap.String("purchasing_currency", purchasingCurrency),
				zap.Error(domain.ErrMarketDataUnavailable))
			continue
		}
		if record.MarketCap.LessThanOrEqual(decimal.Zero) {
			a.l.Warn("market cap missing, excluding from index",
				zap.String("symbol", record.Symbol),
				zap.Error(domain.ErrMarketDataUnavailable))
			continue
		}

		weight := a.weight(record, strategy)
		usable = append(usable, record)
		weights = append(weights, weight)
		total = total.Add(weight)
	}

	a.l.Info("total index weight", zap.String("strategy", strategy.String()), zap.String("total", total.String()))

	allocations := make([]domain.TargetAllocation, 0, len(usable))
	for i, record := range usable {
		percentage := decimal.Zero
		if total.IsPositive() {
			percentage = weights[i].Div(total).Mul(hundred)
		}

		allocations = append(allocations, domain.TargetAllocation{
			Symbol:           record.Symbol,
			TargetPercentage: percentage,
			MarketCap:        record.MarketCap,
			PercentChange7d:  record.PercentChange7d,
			PercentChange30d: record.PercentChange30d,
		})
	}

	return allocations, nil
}

func (a *Allocator) weight(record domain.CoinMarketRecord, strategy domain.IndexStrategy) decimal.Decimal {
	switch strategy {
	case domain.IndexStrategySqrtMarketCap:
		return sqrt(record.MarketCap)
	case domain.IndexStrategySMA:
		return a.smaWeight(record)
	default:
		return record.MarketCap
	}
}

// smaWeight falls back to the instantaneous market cap when history is missing or short.
func (a *Allocator) smaWeight(record domain.CoinMarketRecord) decimal.Decimal {
	series, ok := a.history[record.Symbol]
	if !ok || len(series) == 0 {
		a.l.Warn("market cap history unavailable, using current market cap",
			zap.String("symbol", record.Symbol),
			zap.Error(domain.ErrMarketDataUnavailable))
		return record.MarketCap
	}

	average, err := indicators.LatestSMA(series, a.smaPeriod)
	if err != nil || !average.IsPositive() {
		a.l.Warn("market cap SMA unavailable, using current market cap",
			zap.String("symbol", record.Symbol),
			zap.Int("period", a.smaPeriod),
			zap.Int("points", len(series)),
			zap.NamedError("cause", err),
			zap.Error(domain.ErrMarketDataUnavailable))
		return record.MarketCap
	}

	return average
}

// sqrt refines the float64 estimate with two Newton steps in decimal arithmetic.
func sqrt(value decimal.Decimal) decimal.Decimal {
	if !value.IsPositive() {
		return decimal.Zero
	}

	estimate := decimal.NewFromFloat(math.Sqrt(value.InexactFloat64()))
	if !estimate.IsPositive() {
		return decimal.Zero
	}

	two := decimal.NewFromInt(2)
	for i := 0; i < 2; i++ {
		estimate = estimate.Add(value.Div(estimate)).Div(two)
	}

	return estimate
}
