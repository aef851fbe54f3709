package exchange

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
)

const (
	bybitCategorySpot   = "spot"
	bybitStatusTrading  = "Trading"
	bybitUnifiedAccount = "UNIFIED"
)

// Bybit spot adapter on the V5 unified account API.
type Bybit struct {
	client  *bybit.Client
	l       *zap.Logger
	quote   string
	pricer  PriceLookup
	retrier *retrier.Retrier

	mu          sync.Mutex
	instruments []bybitInstrument
}

type bybitInstrument struct {
	symbol         string
	base           string
	quote          string
	status         string
	basePrecision  string
	quotePrecision string
	tickSize       string
}

func NewBybit(l *zap.Logger, client *bybit.Client, quote string, pricer PriceLookup, r *retrier.Retrier) *Bybit {
	if l == nil {
		l = zap.NewNop()
	}
	if r == nil {
		r = retrier.New()
	}
	return &Bybit{client: client, l: l, quote: quote, pricer: pricer, retrier: r}
}

func (b *Bybit) ID() domain.ExchangeID {
	return domain.ExchangeBybit
}

func (b *Bybit) spotInstruments(ctx context.Context) ([]bybitInstrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.instruments != nil {
		return b.instruments, nil
	}

	result, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (*bybit.V5GetInstrumentsInfoResponse, error) {
		return b.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
			Category: bybitCategorySpot,
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bybit instruments info")
	}
	if result.Result.Spot == nil {
		return nil, errors.New("bybit API returned no spot instruments")
	}

	instruments := make([]bybitInstrument, 0, len(result.Result.Spot.List))
	for _, item := range result.Result.Spot.List {
		instruments = append(instruments, bybitInstrument{
			symbol:         string(item.Symbol),
			base:           string(item.BaseCoin),
			quote:          string(item.QuoteCoin),
			status:         string(item.Status),
			basePrecision:  item.LotSizeFilter.BasePrecision,
			quotePrecision: item.LotSizeFilter.QuotePrecision,
			tickSize:       item.PriceFilter.TickSize,
		})
	}

	b.instruments = instruments
	return b.instruments, nil
}

func (b *Bybit) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	instruments, err := b.spotInstruments(ctx)
	if err != nil {
		return nil, err
	}

	markets := make([]domain.Market, 0, len(instruments))
	for _, item := range instruments {
		status := item.status
		if status == bybitStatusTrading {
			status = domain.MarketStatusTrading
		}
		markets = append(markets, domain.Market{
			Exchange: b.ID(),
			Pair:     domain.NewPair(item.base, item.quote),
			Status:   status,
		})
	}
	return markets, nil
}

func (b *Bybit) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	result, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5(bybitUnifiedAccount), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get bybit wallet balance")
	}

	var balances []domain.Balance
	for _, account := range result.Result.List {
		for _, coin := range account.Coin {
			amount, err := bybitFree(coin.WalletBalance, coin.Locked)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse %s balance", coin.Coin)
			}
			if !amount.IsPositive() {
				continue
			}
			balances = append(balances, domain.Balance{Symbol: string(coin.Coin), Amount: amount})
		}
	}
	return balances, nil
}

// bybitFree wallet balance less the part locked by open spot orders.
func bybitFree(walletBalance, locked string) (decimal.Decimal, error) {
	total, err := decimal.NewFromString(walletBalance)
	if err != nil {
		return decimal.Zero, err
	}
	if locked == "" {
		return total, nil
	}
	held, err := decimal.NewFromString(locked)
	if err != nil {
		return decimal.Zero, err
	}
	free := total.Sub(held)
	if free.IsNegative() {
		return decimal.Zero, nil
	}
	return free, nil
}

func (b *Bybit) GetOpenOrders(ctx context.Context) ([]domain.ExecutedOrder, error) {
	instruments, err := b.spotInstruments(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make(map[string]domain.Pair, len(instruments))
	for _, inst := range instruments {
		pairs[inst.symbol] = domain.NewPair(inst.base, inst.quote)
	}

	result, err := b.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybitCategorySpot,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bybit open orders")
	}

	orders := make([]domain.ExecutedOrder, 0, len(result.Result.List))
	for _, order := range result.Result.List {
		if order.Side != bybit.SideBuy {
			continue
		}
		base, ok := quotedIn(pairs, string(order.Symbol), b.quote)
		if !ok {
			continue
		}

		quantity, _ := decimal.NewFromString(order.Qty)
		price, _ := decimal.NewFromString(order.Price)
		createdMs, _ := strconv.ParseInt(order.CreatedTime, 10, 64)

		orders = append(orders, domain.ExecutedOrder{
			Symbol:      base,
			Quantity:    quantity,
			Price:       price,
			CreatedAt:   createdMs / 1000,
			TimeInForce: string(order.TimeInForce),
			Side:        domain.OrderSideBuy,
			Exchange:    b.ID(),
			ID:          order.OrderID,
		})
	}
	return orders, nil
}

func (b *Bybit) GetSymbolTradingRule(ctx context.Context, symbol string) (domain.TradingRule, error) {
	instruments, err := b.spotInstruments(ctx)
	if err != nil {
		return domain.TradingRule{}, err
	}

	target := domain.NewPair(symbol, b.quote).Symbol()
	for _, item := range instruments {
		if item.symbol != target {
			continue
		}

		quoteStep, _ := decimal.NewFromString(item.quotePrecision)
		step, _ := decimal.NewFromString(item.basePrecision)
		tick, _ := decimal.NewFromString(item.tickSize)

		return domain.TradingRule{
			Tradable:       item.status == bybitStatusTrading,
			QuotePrecision: decimalPlaces(quoteStep),
			StepSize:       step,
			TickSize:       tick,
		}, nil
	}

	return domain.TradingRule{Tradable: false}, nil
}

func (b *Bybit) SubmitOrder(ctx context.Context, symbol string, amount decimal.Decimal, strategy domain.BuyStrategy) (domain.ExecutedOrder, error) {
	pair := domain.NewPair(symbol, b.quote)
	linkID := newClientOrderID()
	param := bybit.V5CreateOrderParam{
		Category:    bybitCategorySpot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		Side:        bybit.SideBuy,
		OrderLinkID: &linkID,
	}

	order := domain.ExecutedOrder{
		Symbol:    symbol,
		Side:      domain.OrderSideBuy,
		Exchange:  b.ID(),
		CreatedAt: time.Now().Unix(),
	}

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

		priceStr := price.String()
		tif := bybit.TimeInForceGoodTillCancel
		param.OrderType = bybit.OrderTypeLimit
		param.Qty = quantity.String()
		param.Price = &priceStr
		param.TimeInForce = &tif

		order.Quantity = quantity
		order.Price = price
		order.TimeInForce = string(tif)
	default:
		// spot market buys are sized in quote currency
		param.OrderType = bybit.OrderTypeMarket
		param.Qty = amount.String()
	}

	result, err := b.client.V5().Order().CreateOrder(param)
	if err != nil {
		return domain.ExecutedOrder{}, errors.Wrapf(err, "failed to create bybit buy order for %s", pair.String())
	}
	order.ID = result.Result.OrderID

	b.l.Info("bybit order placed",
		zap.String("symbol", symbol),
		zap.String("strategy", strategy.String()),
		zap.String("amount", amount.String()),
		zap.String("order_id", order.ID))

	return order, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, symbol, id string) error {
	orderID := id
	_, err := b.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category: bybitCategorySpot,
		Symbol:   bybit.SymbolV5(domain.NewPair(symbol, b.quote).Symbol()),
		OrderID:  &orderID,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to cancel bybit order %s", id)
	}
	return nil
}

func (b *Bybit) Convert(ctx context.Context, from string, amount decimal.Decimal) (domain.ExecutedOrder, error) {
	pair := domain.NewPair(from, b.quote)
	rule, err := b.GetSymbolTradingRule(ctx, from)
	if err != nil {
		return domain.ExecutedOrder{}, err
	}
	if !rule.Tradable {
		return domain.ExecutedOrder{}, errors.Wrapf(domain.ErrTradingRuleViolation, "%s is not tradable", pair.String())
	}

	quantity := rule.NormalizeQuantity(amount)
	linkID := newClientOrderID()
	result, err := b.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybitCategorySpot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		Side:        bybit.SideSell,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         quantity.String(),
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.ExecutedOrder{}, errors.Wrapf(err, "failed to create bybit sell order for %s", pair.String())
	}

	return domain.ExecutedOrder{
		Symbol:    from,
		Quantity:  quantity,
		CreatedAt: time.Now().Unix(),
		Side:      domain.OrderSideSell,
		Exchange:  b.ID(),
		ID:        result.Result.OrderID,
	}, nil
}

// decimalPlaces turns a precision step such as 0.0001 into 4.
func decimalPlaces(step decimal.Decimal) int {
	if !step.IsPositive() {
		return 0
	}
	places := int(math.Round(-math.Log10(step.InexactFloat64())))
	if places < 0 {
		return 0
	}
	return places
}
