package marketdata

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

// KlineSource returns close prices of a pair, oldest first.
type KlineSource interface {
	Closes(ctx context.Context, pair domain.Pair, interval string, limit int) ([]decimal.Decimal, error)
}

// History derives market cap series from exchange candles.
// Point t of a series is the current market cap scaled by close_t / close_last.
type History struct {
	l        *zap.Logger
	source   KlineSource
	quote    string
	interval string
	points   int
}

func NewHistory(l *zap.Logger, source KlineSource, quote, interval string, points int) *History {
	if l == nil {
		l = zap.NewNop()
	}
	return &History{l: l, source: source, quote: quote, interval: interval, points: points}
}

// MarketCaps returns a series per record. Symbols whose candles cannot be fetched are absent.
func (h *History) MarketCaps(ctx context.Context, records []domain.CoinMarketRecord) map[string][]decimal.Decimal {
	series := make(map[string][]decimal.Decimal, len(records))

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			break
		}
		if !record.MarketCap.IsPositive() {
			continue
		}

		pair := domain.NewPair(record.Symbol, h.quote)
		closes, err := h.source.Closes(ctx, pair, h.interval, h.points)
		if err != nil {
			h.l.Warn("market cap history unavailable",
				zap.String("pair", pair.String()),
				zap.Error(err))
			continue
		}
		if len(closes) == 0 || !closes[len(closes)-1].IsPositive() {
			continue
		}

		last := closes[len(closes)-1]
		caps := make([]decimal.Decimal, 0, len(closes))
		for _, c := range closes {
			caps = append(caps, record.MarketCap.Mul(c).Div(last))
		}
		series[record.Symbol] = caps
	}

	h.l.Info("market cap history", zap.Int("symbols", len(series)), zap.String("interval", h.interval), zap.Int("points", h.points))

	return series
}

// BinanceKlines kline source on the Binance public API.
type BinanceKlines struct {
	client  *binance.Client
	retrier *retrier.Retrier
}

func NewBinanceKlines(client *binance.Client, r *retrier.Retrier) *BinanceKlines {
	if r == nil {
		r = retrier.New()
	}
	return &BinanceKlines{client: client, retrier: r}
}

func (p *BinanceKlines) Closes(ctx context.Context, pair domain.Pair, interval string, limit int) ([]decimal.Decimal, error) {
	klines, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) ([]*binance.Kline, error) {
		return p.client.NewKlinesService().
			Symbol(pair.Symbol()).
			Interval(interval).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair.String())
	}

	closes := make([]decimal.Decimal, 0, len(klines))
	for i, k := range klines {
		c, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		closes = append(closes, c)
	}
	return closes, nil
}

// BybitKlines kline source on the Bybit V5 market API.
type BybitKlines struct {
	client  *bybit.Client
	retrier *retrier.Retrier
}

func NewBybitKlines(client *bybit.Client, r *retrier.Retrier) *BybitKlines {
	if r == nil {
		r = retrier.New()
	}
	return &BybitKlines{client: client, retrier: r}
}

func (p *BybitKlines) Closes(ctx context.Context, pair domain.Pair, interval string, limit int) ([]decimal.Decimal, error) {
	result, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) (*bybit.V5GetKlineResponse, error) {
		return p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
			Category: "spot",
			Symbol:   bybit.SymbolV5(pair.Symbol()),
			Interval: bybit.Interval(bybitInterval(interval)),
			Limit:    &limit,
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get klines from Bybit for %s", pair.String())
	}

	// bybit lists newest first
	list := result.Result.List
	closes := make([]decimal.Decimal, len(list))
	for i, k := range list {
		c, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price: %s", k.Close)
		}
		closes[len(list)-1-i] = c
	}
	return closes, nil
}

// bybitInterval maps Binance style intervals (1h, 4h, 1d, 1w) to Bybit's.
func bybitInterval(interval string) string {
	switch strings.ToLower(interval) {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	case "1w":
		return "W"
	default:
		return interval
	}
}
