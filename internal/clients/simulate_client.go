package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// SimulateClient paper trading client. Market data comes from the Binance public API.
type SimulateClient struct {
	binanceClient *binance.Client
	// Balance starting purchasing currency balance of the paper wallet.
	Balance decimal.Decimal
}

// NewSimulateClient creates a new simulate client.
func NewSimulateClient(tld string, balance decimal.Decimal) *SimulateClient {
	// create client without API keys for public data only
	return &SimulateClient{
		binanceClient: NewBinanceClient("", "", tld),
		Balance:       balance,
	}
}

// GetBinanceClient returns the underlying Binance client.
func (c *SimulateClient) GetBinanceClient() *binance.Client {
	return c.binanceClient
}
