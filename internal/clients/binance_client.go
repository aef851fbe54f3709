package clients

import (
	"strings"

	"github.com/adshao/go-binance/v2"
)

const binanceUSBaseURL = "https://api.binance.us"

// NewBinanceClient creates a spot client for binance.com or, with tld "us", binance.us.
// Empty keys give a client for public endpoints only.
func NewBinanceClient(apiKey, apiSecret, tld string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	if strings.EqualFold(tld, "us") {
		client.BaseURL = binanceUSBaseURL
	}
	return client
}
