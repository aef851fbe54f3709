// Package indicators wraps cinar/indicator moving averages for decimal series.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// CalculateSMA calculates the Simple Moving Average for the given period.
// The result has len(values)-period+1 points.
func CalculateSMA(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if period < 1 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(values))
	}

	sma := trend.NewSmaWithPeriod[float64](period)

	inputChan := helper.SliceToChan(decimalsToFloat64(values))
	outputChan := sma.Compute(inputChan)

	return float64ToDecimals(helper.ChanToSlice(outputChan)), nil
}

// LatestSMA returns the most recent SMA point.
func LatestSMA(values []decimal.Decimal, period int) (decimal.Decimal, error) {
	series, err := CalculateSMA(values, period)
	if err != nil {
		return decimal.Zero, err
	}
	if len(series) == 0 {
		return decimal.Zero, fmt.Errorf("empty SMA series for period %d", period)
	}
	return series[len(series)-1], nil
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals converts a slice of float64 to []decimal.Decimal
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
