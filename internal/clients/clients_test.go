package clients

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewBinanceClient(t *testing.T) {
	assert.Equal(t, binanceUSBaseURL, NewBinanceClient("", "", "us").BaseURL)
	assert.Equal(t, binanceUSBaseURL, NewBinanceClient("", "", "US").BaseURL)
	assert.NotEqual(t, binanceUSBaseURL, NewBinanceClient("", "", "com").BaseURL)
}

func TestNewSimulateClient(t *testing.T) {
	c := NewSimulateClient("us", decimal.NewFromInt(1000))
	assert.NotNil(t, c.GetBinanceClient())
	assert.Equal(t, binanceUSBaseURL, c.GetBinanceClient().BaseURL)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(1000)))
}
