package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// ExchangeID identifies a supported exchange.
type ExchangeID string

const (
	// ExchangeBinance Binance spot (binance.com or binance.us).
	ExchangeBinance ExchangeID = "binance"
	// ExchangeBybit Bybit spot.
	ExchangeBybit ExchangeID = "bybit"
	// ExchangeSimulate in-memory exchange backed by public prices.
	ExchangeSimulate ExchangeID = "simulate"
)

// String returns the string representation.
func (e ExchangeID) String() string {
	return string(e)
}

// IsValid checks if the ExchangeID value is supported.
func (e ExchangeID) IsValid() bool {
	return e == ExchangeBinance || e == ExchangeBybit || e == ExchangeSimulate
}

// ParseExchangeID converts a config value into an ExchangeID.
func ParseExchangeID(s string) (ExchangeID, error) {
	id := ExchangeID(strings.ToLower(strings.TrimSpace(s)))
	if !id.IsValid() {
		return "", errors.Wrapf(ErrConfiguration, "unsupported exchange %q", s)
	}
	return id, nil
}

// IndexStrategy weighting used to turn market caps into target percentages.
type IndexStrategy string

const (
	// IndexStrategyMarketCap weight proportional to market cap.
	IndexStrategyMarketCap IndexStrategy = "market_cap"
	// IndexStrategySqrtMarketCap weight proportional to the square root of market cap.
	IndexStrategySqrtMarketCap IndexStrategy = "sqrt_market_cap"
	// IndexStrategySMA weight proportional to a simple moving average of market cap.
	IndexStrategySMA IndexStrategy = "sma"
)

// String returns the string representation.
func (s IndexStrategy) String() string {
	return string(s)
}

// IsValid checks if the IndexStrategy value is valid.
func (s IndexStrategy) IsValid() bool {
	return s == IndexStrategyMarketCap || s == IndexStrategySqrtMarketCap || s == IndexStrategySMA
}

// ParseIndexStrategy converts a config or flag value into an IndexStrategy.
func ParseIndexStrategy(s string) (IndexStrategy, error) {
	strategy := IndexStrategy(strings.ToLower(strings.TrimSpace(s)))
	if !strategy.IsValid() {
		return "", errors.Wrapf(ErrConfiguration, "unknown index strategy %q", s)
	}
	return strategy, nil
}

// BuyStrategy order type used for purchases.
type BuyStrategy string

const (
	// BuyStrategyLimit limit order at the current ticker price.
	BuyStrategyLimit BuyStrategy = "limit"
	// BuyStrategyMarket market order spending a quote amount.
	BuyStrategyMarket BuyStrategy = "market"
)

// String returns the string representation.
func (s BuyStrategy) String() string {
	return string(s)
}

// IsValid checks if the BuyStrategy value is valid.
func (s BuyStrategy) IsValid() bool {
	return s == BuyStrategyLimit || s == BuyStrategyMarket
}

// ParseBuyStrategy converts a config value into a BuyStrategy.
func ParseBuyStrategy(s string) (BuyStrategy, error) {
	strategy := BuyStrategy(strings.ToLower(strings.TrimSpace(s)))
	if !strategy.IsValid() {
		return "", errors.Wrapf(ErrConfiguration, "unknown buy strategy %q", s)
	}
	return strategy, nil
}

// OrderSide side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// String returns the string representation.
func (s OrderSide) String() string {
	return string(s)
}
