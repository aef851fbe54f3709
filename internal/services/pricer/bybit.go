package pricer

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

type BybitPricer struct {
	client  *bybit.Client
	l       *zap.Logger
	book    quoteBook
	retrier *retrier.Retrier
}

func NewBybitPricer(l *zap.Logger, client *bybit.Client, quote string, stablecoins []string, r *retrier.Retrier) *BybitPricer {
	if r == nil {
		r = retrier.New()
	}
	return &BybitPricer{client: client, l: l, book: newQuoteBook(quote, stablecoins), retrier: r}
}

func (p *BybitPricer) Lookup(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if !p.book.needsTickers(symbols) {
		return p.book.resolve(symbols, nil), nil
	}

	result, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) (*bybit.V5GetTickersResponse, error) {
		return p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
			Category: "spot",
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bybit tickers")
	}
	if result.Result.Spot == nil {
		return nil, errors.New("bybit API returned no spot tickers")
	}

	tickers := make(map[string]decimal.Decimal, len(result.Result.Spot.List))
	for _, item := range result.Result.Spot.List {
		price, err := decimal.NewFromString(item.LastPrice)
		if err != nil {
			p.l.Debug("skipping unparsable bybit price", zap.String("symbol", string(item.Symbol)), zap.String("price", item.LastPrice))
			continue
		}
		tickers[string(item.Symbol)] = price
	}

	return p.book.resolve(symbols, tickers), nil
}
