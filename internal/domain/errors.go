package domain

import "github.com/pkg/errors"

var (
	// ErrConfiguration invalid or missing configuration, reported before any network call.
	ErrConfiguration = errors.New("configuration error")
	// ErrMarketDataUnavailable price or market cap missing for a symbol.
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	// ErrTradingRuleViolation order amount violates exchange rules after rounding.
	ErrTradingRuleViolation = errors.New("trading rule violation")
	// ErrOrderSubmission exchange rejected an order.
	ErrOrderSubmission = errors.New("order submission failed")
	// ErrInsufficientBalance purchasing balance below the exchange minimum.
	ErrInsufficientBalance = errors.New("insufficient purchasing balance")
)
