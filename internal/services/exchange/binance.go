package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

// Binance spot adapter.
type Binance struct {
	client  *binance.Client
	l       *zap.Logger
	quote   string
	pricer  PriceLookup
	retrier *retrier.Retrier

	mu   sync.Mutex
	info *binance.ExchangeInfo
}

func NewBinance(l *zap.Logger, client *binance.Client, quote string, pricer PriceLookup, r *retrier.Retrier) *Binance {
	if l == nil {
		l = zap.NewNop()
	}
	if r == nil {
		r = retrier.New()
	}
	return &Binance{client: client, l: l, quote: quote, pricer: pricer, retrier: r}
}

func (b *Binance) ID() domain.ExchangeID {
	return domain.ExchangeBinance
}

// exchangeInfo is fetched once per adapter.
func (b *Binance) exchangeInfo(ctx context.Context) (*binance.ExchangeInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.info != nil {
		return b.info, nil
	}

	info, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (*binance.ExchangeInfo, error) {
		info, err := b.client.NewExchangeInfoService().Do(ctx)
		if common.IsAPIError(err) {
			return nil, retrier.Permanent(err)
		}
		return info, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance exchange info")
	}

	b.info = info
	return info, nil
}

func (b *Binance) symbolInfo(ctx context.Context, base string) (*binance.Symbol, error) {
	info, err := b.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	symbol := domain.NewPair(base, b.quote).Symbol()
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return &info.Symbols[i], nil
		}
	}
	return nil, nil
}

func (b *Binance) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	info, err := b.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	markets := make([]domain.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		markets = append(markets, domain.Market{
			Exchange: b.ID(),
			Pair:     domain.NewPair(s.BaseAsset, s.QuoteAsset),
			Status:   s.Status,
		})
	}
	return markets, nil
}

func (b *Binance) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance account balance")
	}

	balances := make([]domain.Balance, 0, len(account.Balances))
	for _, balance := range account.Balances {
		// locked funds back open orders and cannot be spent
		free, err := decimal.NewFromString(balance.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", balance.Asset)
		}
		if !free.IsPositive() {
			continue
		}
		balances = append(balances, domain.Balance{Symbol: balance.Asset, Amount: free})
	}
	return balances, nil
}

func (b *Binance) GetOpenOrders(ctx context.Context) ([]domain.ExecutedOrder, error) {
	info, err := b.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make(map[string]domain.Pair, len(info.Symbols))
	for _, s := range info.Symbols {
		pairs[s.Symbol] = domain.NewPair(s.BaseAsset, s.QuoteAsset)
	}

	orders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list binance open orders")
	}

	result := make([]domain.ExecutedOrder, 0, len(orders))
	for _, order := range orders {
		if order == nil || order.Side != binance.SideTypeBuy {
			continue
		}
		base, ok := quotedIn(pairs, order.Symbol, b.quote)
		if !ok {
			continue
		}

		quantity, _ := decimal.NewFromString(order.OrigQuantity)
		price, _ := decimal.NewFromString(order.Price)

		result = append(result, domain.ExecutedOrder{
			Symbol:      base,
			Quantity:    quantity,
			Price:       price,
			CreatedAt:   order.Time / 1000,
			TimeInForce: string(order.TimeInForce),
			Side:        domain.OrderSideBuy,
			Exchange:    b.ID(),
			ID:          strconv.FormatInt(order.OrderID, 10),
		})
	}
	return result, nil
}

func (b *Binance) GetSymbolTradingRule(ctx context.Context, symbol string) (domain.TradingRule, error) {
	s, err := b.symbolInfo(ctx, symbol)
	if err != nil {
		return domain.TradingRule{}, err
	}
	if s == nil {
		return domain.TradingRule{Tradable: false}, nil
	}

	rule := domain.TradingRule{
		Tradable:       s.Status == string(binance.SymbolStatusTypeTrading),
		QuotePrecision: s.QuoteAssetPrecision,
	}
	if lot := s.LotSizeFilter(); lot != nil {
		rule.StepSize, _ = decimal.NewFromString(lot.StepSize)
	}
	if pf := s.PriceFilter(); pf != nil {
		rule.TickSize, _ = decimal.NewFromString(pf.TickSize)
	}
	return rule, nil
}

func (b *Binance) SubmitOrder(ctx context.Context, symbol string, amount decimal.Decimal, strategy domain.BuyStrategy) (domain.ExecutedOrder, error) {
	pair := domain.NewPair(symbol, b.quote)
	service := b.client.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(binance.SideTypeBuy).
		NewClientOrderID(newClientOrderID()).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch strategy {
	case domain.BuyStrategyLimit:
		rule, err := b.GetSymbolTradingRule(ctx, symbol)
		if err != nil {
			return domain.ExecutedOrder{}, err
		}
		price, err := priceOf(ctx, b.pricer, symbol)
		if err != nil {
			return domain.ExecutedOrder{}, errors.Wrapf(err, "failed to price %s limit order", pair.String())
		}
		price = rule.NormalizePrice(price)
		quantity := rule.NormalizeQuantity(amount.Div(price))
		if !quantity.IsPositive() {
			return domain.ExecutedOrder{}, errors.Wrapf(domain.ErrTradingRuleViolation, "limit quantity for %s rounds to zero", pair.String())
		}
		service = service.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(quantity.String()).
			Price(price.String())
	default:
		service = service.Type(binance.OrderTypeMarket).QuoteOrderQty(amount.String())
	}

	resp, err := service.Do(ctx)
	if err != nil {
		return domain.ExecutedOrder{}, errors.Wrapf(err, "failed to create binance buy order for %s", pair.String())
	}

	return b.executed(symbol, resp, domain.OrderSideBuy), nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, id string) error {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid binance order id %q", id)
	}

	_, err = b.client.NewCancelOrderService().
		Symbol(domain.NewPair(symbol, b.quote).Symbol()).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel binance order %s", id)
	}
	return nil
}

func (b *Binance) Convert(ctx context.Context, from string, amount decimal.Decimal) (domain.ExecutedOrder, error) {
	pair := domain.NewPair(from, b.quote)
	rule, err := b.GetSymbolTradingRule(ctx, from)
	if err != nil {
		return domain.ExecutedOrder{}, err
	}
	if !rule.Tradable {
		return domain.ExecutedOrder{}, errors.Wrapf(domain.ErrTradingRuleViolation, "%s is not tradable", pair.String())
	}

	quantity := rule.NormalizeQuantity(amount)
	resp, err := b.client.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(newClientOrderID()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return domain.ExecutedOrder{}, errors.Wrapf(err, "failed to create binance sell order for %s", pair.String())
	}

	return b.executed(from, resp, domain.OrderSideSell), nil
}

func (b *Binance) executed(symbol string, resp *binance.CreateOrderResponse, side domain.OrderSide) domain.ExecutedOrder {
	quantity, _ := decimal.NewFromString(resp.ExecutedQuantity)
	spent, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	price := avgPrice(spent, quantity)
	if !price.IsPositive() {
		price, _ = decimal.NewFromString(resp.Price)
	}
	if !quantity.IsPositive() {
		quantity, _ = decimal.NewFromString(resp.OrigQuantity)
	}

	createdAt := resp.TransactTime / 1000
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	b.l.Info("binance order placed",
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.Int64("order_id", resp.OrderID))

	return domain.ExecutedOrder{
		Symbol:      symbol,
		Quantity:    quantity,
		Price:       price,
		CreatedAt:   createdAt,
		TimeInForce: string(resp.TimeInForce),
		Side:        side,
		Exchange:    b.ID(),
		ID:          strconv.FormatInt(resp.OrderID, 10),
	}
}
