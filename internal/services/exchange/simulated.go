package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"go.uber.org/zap"
)

// simulatedQuantityPrecision base quantity digits kept when no trading rule applies.
const simulatedQuantityPrecision = 8

// Simulated in-memory exchange. Orders fill immediately at the pricer's price.
// Markets and trading rules come from seeds first, then from the upstream adapter.
type Simulated struct {
	mu       sync.Mutex
	l        *zap.Logger
	quote    string
	pricer   PriceLookup
	upstream Adapter
	wallet   map[string]decimal.Decimal
	markets  []domain.Market
	rules    map[string]domain.TradingRule
	open     []domain.ExecutedOrder
	filled   []domain.ExecutedOrder
	seq      int
	now      func() time.Time
}

// SimulatedOption configures a Simulated exchange.
type SimulatedOption func(*Simulated)

// WithBalances credits the wallet.
func WithBalances(balances ...domain.Balance) SimulatedOption {
	return func(s *Simulated) {
		for _, b := range balances {
			s.wallet[b.Symbol] = s.wallet[b.Symbol].Add(b.Amount)
		}
	}
}

// WithQuoteBalance replaces the purchasing currency balance.
func WithQuoteBalance(amount decimal.Decimal) SimulatedOption {
	return func(s *Simulated) {
		s.wallet[s.quote] = amount
	}
}

// WithMarkets seeds the listed markets.
func WithMarkets(markets ...domain.Market) SimulatedOption {
	return func(s *Simulated) {
		s.markets = append(s.markets, markets...)
	}
}

// WithTradingRule seeds the rule for buying symbol.
func WithTradingRule(symbol string, rule domain.TradingRule) SimulatedOption {
	return func(s *Simulated) {
		s.rules[symbol] = rule
	}
}

// WithOpenOrders seeds open orders.
func WithOpenOrders(orders ...domain.ExecutedOrder) SimulatedOption {
	return func(s *Simulated) {
		s.open = append(s.open, orders...)
	}
}

// WithUpstream reads markets and rules missing from the seeds from adapter.
func WithUpstream(adapter Adapter) SimulatedOption {
	return func(s *Simulated) {
		s.upstream = adapter
	}
}

// WithClock sets the time source for order timestamps.
func WithClock(now func() time.Time) SimulatedOption {
	return func(s *Simulated) {
		s.now = now
	}
}

// NewSimulated creates a simulated exchange trading against quote.
func NewSimulated(l *zap.Logger, quote string, pricer PriceLookup, opts ...SimulatedOption) *Simulated {
	if l == nil {
		l = zap.NewNop()
	}
	s := &Simulated{
		l:      l,
		quote:  quote,
		pricer: pricer,
		wallet: make(map[string]decimal.Decimal),
		rules:  make(map[string]domain.TradingRule),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.l.Info("simulate init",
		zap.String("quote", quote),
		zap.String("quote_balance", s.wallet[quote].String()),
		zap.Bool("upstream", s.upstream != nil))

	return s
}

// Mirror builds a paper copy of source: same balances and open orders, read-only access
// to its markets and rules. Orders on the copy never reach source.
func Mirror(ctx context.Context, l *zap.Logger, source Adapter, quote string, pricer PriceLookup, opts ...SimulatedOption) (*Simulated, error) {
	balances, err := source.GetBalances(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mirror %s balances", source.ID())
	}
	orders, err := source.GetOpenOrders(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mirror %s open orders", source.ID())
	}

	base := []SimulatedOption{WithBalances(balances...), WithOpenOrders(orders...), WithUpstream(source)}
	return NewSimulated(l, quote, pricer, append(base, opts...)...), nil
}

func (s *Simulated) ID() domain.ExchangeID {
	return domain.ExchangeSimulate
}

func (s *Simulated) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	seeded := append([]domain.Market(nil), s.markets...)
	s.mu.Unlock()

	if len(seeded) > 0 || s.upstream == nil {
		return seeded, nil
	}
	return s.upstream.ListMarkets(ctx)
}

func (s *Simulated) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make([]domain.Balance, 0, len(s.wallet))
	for symbol, amount := range s.wallet {
		if amount.IsPositive() {
			balances = append(balances, domain.Balance{Symbol: symbol, Amount: amount})
		}
	}
	sortBalances(balances)
	return balances, nil
}

func (s *Simulated) GetOpenOrders(ctx context.Context) ([]domain.ExecutedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]domain.ExecutedOrder, 0, len(s.open))
	for _, order := range s.open {
		if order.Side == domain.OrderSideBuy {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (s *Simulated) GetSymbolTradingRule(ctx context.Context, symbol string) (domain.TradingRule, error) {
	s.mu.Lock()
	rule, ok := s.rules[symbol]
	s.mu.Unlock()

	if ok {
		return rule, nil
	}
	if s.upstream != nil {
		return s.upstream.GetSymbolTradingRule(ctx, symbol)
	}
	return domain.TradingRule{Tradable: false}, nil
}

func (s *Simulated) SubmitOrder(ctx context.Context, symbol string, amount decimal.Decimal, strategy domain.BuyStrategy) (domain.ExecutedOrder, error) {
	if !amount.IsPositive() {
		return domain.ExecutedOrder{}, errors.Errorf("buy amount must be positive, got %s", amount.String())
	}

	price, err := priceOf(ctx, s.pricer, symbol)
	if err != nil {
		return domain.ExecutedOrder{}, errors.Wrap(err, "failed to get price for simulated buy")
	}

	rule, err := s.GetSymbolTradingRule(ctx, symbol)
	if err != nil {
		return domain.ExecutedOrder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet[s.quote].LessThan(amount) {
		return domain.ExecutedOrder{}, errors.Wrapf(domain.ErrInsufficientBalance, "have %s %s need %s",
			s.wallet[s.quote].String(), s.quote, amount.String())
	}

	timeInForce := ""
	if strategy == domain.BuyStrategyLimit {
		price = rule.NormalizePrice(price)
		timeInForce = "GTC"
	}

	quantity := amount.Div(price)
	if rule.StepSize.IsPositive() {
		quantity = rule.NormalizeQuantity(quantity)
	} else {
		quantity = quantity.RoundDown(simulatedQuantityPrecision)
	}
	if !quantity.IsPositive() {
		return domain.ExecutedOrder{}, errors.Wrapf(domain.ErrTradingRuleViolation, "quantity for %s rounds to zero", symbol)
	}

	spent := amount
	if strategy == domain.BuyStrategyLimit {
		spent = quantity.Mul(price)
	}

	s.wallet[s.quote] = s.wallet[s.quote].Sub(spent)
	s.wallet[symbol] = s.wallet[symbol].Add(quantity)

	order := s.record(symbol, quantity, price, timeInForce, domain.OrderSideBuy)

	s.l.Info("simulated buy",
		zap.String("symbol", symbol),
		zap.String("strategy", strategy.String()),
		zap.String("spent", spent.String()),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))

	return order, nil
}

func (s *Simulated) CancelOrder(ctx context.Context, symbol, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, order := range s.open {
		if order.ID == id && order.Symbol == symbol {
			s.open = append(s.open[:i], s.open[i+1:]...)
			s.l.Info("simulated cancel", zap.String("symbol", symbol), zap.String("order_id", id))
			return nil
		}
	}
	return errors.Errorf("order %s for %s not found", id, symbol)
}

func (s *Simulated) Convert(ctx context.Context, from string, amount decimal.Decimal) (domain.ExecutedOrder, error) {
	price, err := priceOf(ctx, s.pricer, from)
	if err != nil {
		return domain.ExecutedOrder{}, errors.Wrap(err, "failed to get price for simulated conversion")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet[from].LessThan(amount) {
		return domain.ExecutedOrder{}, errors.Wrapf(domain.ErrInsufficientBalance, "have %s %s need %s",
			s.wallet[from].String(), from, amount.String())
	}

	s.wallet[from] = s.wallet[from].Sub(amount)
	s.wallet[s.quote] = s.wallet[s.quote].Add(amount.Mul(price))

	return s.record(from, amount, price, "", domain.OrderSideSell), nil
}

// Filled returns orders executed on this exchange.
func (s *Simulated) Filled() []domain.ExecutedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExecutedOrder(nil), s.filled...)
}

// Balance returns the wallet amount of symbol.
func (s *Simulated) Balance(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet[symbol]
}

// record must be called with mu held.
func (s *Simulated) record(symbol string, quantity, price decimal.Decimal, timeInForce string, side domain.OrderSide) domain.ExecutedOrder {
	s.seq++
	order := domain.ExecutedOrder{
		Symbol:      symbol,
		Quantity:    quantity,
		Price:       price,
		CreatedAt:   s.now().Unix(),
		TimeInForce: timeInForce,
		Side:        side,
		Exchange:    s.ID(),
		ID:          "sim-" + strconv.Itoa(s.seq),
	}
	s.filled = append(s.filled, order)
	return order
}
