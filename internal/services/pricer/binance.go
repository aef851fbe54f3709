package pricer

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

// BinancePricer prices symbols from the Binance ticker list. Public endpoint, no keys needed.
type BinancePricer struct {
	client  *binance.Client
	l       *zap.Logger
	book    quoteBook
	retrier *retrier.Retrier
}

func NewBinancePricer(l *zap.Logger, client *binance.Client, quote string, stablecoins []string, r *retrier.Retrier) *BinancePricer {
	if r == nil {
		r = retrier.New()
	}
	return &BinancePricer{client: client, l: l, book: newQuoteBook(quote, stablecoins), retrier: r}
}

func (p *BinancePricer) Lookup(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if !p.book.needsTickers(symbols) {
		return p.book.resolve(symbols, nil), nil
	}

	list, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) ([]*binance.SymbolPrice, error) {
		return p.client.NewListPricesService().Do(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list binance prices")
	}

	tickers := make(map[string]decimal.Decimal, len(list))
	for _, item := range list {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			p.l.Debug("skipping unparsable binance price", zap.String("symbol", item.Symbol), zap.String("price", item.Price))
			continue
		}
		tickers[item.Symbol] = price
	}

	return p.book.resolve(symbols, tickers), nil
}
