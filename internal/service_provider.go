package internal

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/cryptoindex/config"
	"github.com/vadiminshakov/cryptoindex/internal/clients"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/internal/services/exchange"
	"github.com/vadiminshakov/cryptoindex/internal/services/marketdata"
	"github.com/vadiminshakov/cryptoindex/internal/services/pricer"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
)

// serviceProvider builds the platform-specific collaborators of one exchange.
type serviceProvider interface {
	Exchange() exchange.Adapter
	Pricer() pricer.Pricer
	Klines() marketdata.KlineSource
}

// newServiceProvider creates a new service provider based on the client type.
// This is the single point of truth for dispatching to platform-specific implementations.
func newServiceProvider(client any, l *zap.Logger, quote string, stablecoins []string) (serviceProvider, error) {
	r := retrier.New(retrier.WithMaxRetries(3), retrier.WithLogger(l.Named("retrier")))

	switch c := client.(type) {
	case *binance.Client:
		p := pricer.NewBinancePricer(l, c, quote, stablecoins, r)
		return &binanceProvider{
			exchange: exchange.NewBinance(l, c, quote, p, r),
			pricer:   p,
			klines:   marketdata.NewBinanceKlines(c, r),
		}, nil
	case *bybit.Client:
		p := pricer.NewBybitPricer(l, c, quote, stablecoins, r)
		return &bybitProvider{
			exchange: exchange.NewBybit(l, c, quote, p, r),
			pricer:   p,
			klines:   marketdata.NewBybitKlines(c, r),
		}, nil
	case *clients.SimulateClient:
		public := c.GetBinanceClient()
		p := pricer.NewBinancePricer(l, public, quote, stablecoins, r)
		upstream := exchange.NewBinance(l, public, quote, p, r)
		return &simulateProvider{
			exchange: exchange.NewSimulated(l, quote, p,
				exchange.WithUpstream(upstream),
				exchange.WithBalances(domain.Balance{Symbol: quote, Amount: c.Balance}),
			),
			pricer: p,
			klines: marketdata.NewBinanceKlines(public, r),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

// newClient creates the API client of an exchange. Without credentials the client reaches
// public endpoints only.
func newClient(id domain.ExchangeID, cfg config.Config) (any, error) {
	creds := cfg.Credentials
	switch id {
	case domain.ExchangeBinance:
		return clients.NewBinanceClient(creds.BinanceAPIKey, creds.BinanceAPISecret, cfg.BinanceTLD), nil
	case domain.ExchangeBybit:
		return clients.NewBybitClient(creds.BybitAPIKey, creds.BybitAPISecret), nil
	case domain.ExchangeSimulate:
		return clients.NewSimulateClient(cfg.BinanceTLD, cfg.SimulateBalance), nil
	default:
		return nil, errors.Wrapf(domain.ErrConfiguration, "unsupported platform: %s", id)
	}
}

// requireCredentials checks that account endpoints of the exchange can be called.
func requireCredentials(id domain.ExchangeID, creds config.Credentials) error {
	switch id {
	case domain.ExchangeBinance:
		if creds.BinanceAPIKey == "" || creds.BinanceAPISecret == "" {
			return errors.Wrap(domain.ErrConfiguration, "BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
	case domain.ExchangeBybit:
		if creds.BybitAPIKey == "" || creds.BybitAPISecret == "" {
			return errors.Wrap(domain.ErrConfiguration, "BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
	}
	return nil
}

type binanceProvider struct {
	exchange *exchange.Binance
	pricer   *pricer.BinancePricer
	klines   *marketdata.BinanceKlines
}

func (p *binanceProvider) Exchange() exchange.Adapter     { return p.exchange }
func (p *binanceProvider) Pricer() pricer.Pricer          { return p.pricer }
func (p *binanceProvider) Klines() marketdata.KlineSource { return p.klines }

type bybitProvider struct {
	exchange *exchange.Bybit
	pricer   *pricer.BybitPricer
	klines   *marketdata.BybitKlines
}

func (p *bybitProvider) Exchange() exchange.Adapter     { return p.exchange }
func (p *bybitProvider) Pricer() pricer.Pricer          { return p.pricer }
func (p *bybitProvider) Klines() marketdata.KlineSource { return p.klines }

type simulateProvider struct {
	exchange *exchange.Simulated
	pricer   *pricer.BinancePricer
	klines   *marketdata.BinanceKlines
}

func (p *simulateProvider) Exchange() exchange.Adapter     { return p.exchange }
func (p *simulateProvider) Pricer() pricer.Pricer          { return p.pricer }
func (p *simulateProvider) Klines() marketdata.KlineSource { return p.klines }
