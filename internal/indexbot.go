package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/cryptoindex/config"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/internal/services/allocator"
	"github.com/vadiminshakov/cryptoindex/internal/services/converter"
	"github.com/vadiminshakov/cryptoindex/internal/services/exchange"
	"github.com/vadiminshakov/cryptoindex/internal/services/executor"
	"github.com/vadiminshakov/cryptoindex/internal/services/marketdata"
	"github.com/vadiminshakov/cryptoindex/internal/services/planner"
	"github.com/vadiminshakov/cryptoindex/internal/services/portfolio"
	"github.com/vadiminshakov/cryptoindex/internal/services/pricer"
	"github.com/vadiminshakov/cryptoindex/internal/services/universe"
	"github.com/vadiminshakov/cryptoindex/internal/storage/cache"
)

type venue struct {
	id       domain.ExchangeID
	provider serviceProvider
}

// IndexBot runs one invocation of the index fund: compute the index, compare it with the
// holdings of every configured exchange and buy toward the target.
type IndexBot struct {
	l        *zap.Logger
	conf     config.Config
	markets  marketdata.Provider
	cache    *cache.Cache
	cacheSet bool
	venues   []venue
	now      func() time.Time
}

type Option func(*IndexBot)

// WithMarketData replaces the CoinMarketCap provider.
func WithMarketData(p marketdata.Provider) Option {
	return func(b *IndexBot) {
		b.markets = p
	}
}

// WithCache sets the result cache. nil disables caching.
func WithCache(c *cache.Cache) Option {
	return func(b *IndexBot) {
		b.cache = c
		b.cacheSet = true
	}
}

// WithClient uses client for exchange id instead of one built from the configuration.
func WithClient(id domain.ExchangeID, client any) Option {
	return func(b *IndexBot) {
		provider, err := newServiceProvider(client, b.l, b.conf.PurchasingCurrency, b.conf.Stablecoins)
		if err != nil {
			b.l.Error("client ignored", zap.String("exchange", id.String()), zap.Error(err))
			return
		}
		b.setProvider(id, provider)
	}
}

// WithClock sets the time source for stale order detection.
func WithClock(now func() time.Time) Option {
	return func(b *IndexBot) {
		b.now = now
	}
}

func withProvider(id domain.ExchangeID, p serviceProvider) Option {
	return func(b *IndexBot) {
		b.setProvider(id, p)
	}
}

// NewIndexBot creates a bot for the configured exchanges.
func NewIndexBot(l *zap.Logger, conf config.Config, opts ...Option) (*IndexBot, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	b := &IndexBot{l: l, conf: conf, now: time.Now}
	for _, id := range conf.Exchanges {
		b.venues = append(b.venues, venue{id: id})
	}
	for _, opt := range opts {
		opt(b)
	}

	for i, v := range b.venues {
		if v.provider != nil {
			continue
		}
		client, err := newClient(v.id, conf)
		if err != nil {
			return nil, err
		}
		provider, err := newServiceProvider(client, l, conf.PurchasingCurrency, conf.Stablecoins)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create %s services", v.id)
		}
		b.venues[i].provider = provider
	}

	if b.markets == nil {
		b.markets = marketdata.NewCoinMarketCap(l, conf.Credentials.CoinMarketCapAPIKey, conf.PurchasingCurrency)
	}

	if !b.cacheSet && conf.CacheTTL > 0 {
		c, err := cache.Open(l, conf.CacheDir, conf.CacheTTL)
		if err != nil {
			l.Warn("result cache disabled", zap.String("dir", conf.CacheDir), zap.Error(err))
		} else {
			b.cache = c
		}
	}

	return b, nil
}

func (b *IndexBot) setProvider(id domain.ExchangeID, p serviceProvider) {
	for i := range b.venues {
		if b.venues[i].id == id {
			b.venues[i].provider = p
			return
		}
	}
}

// Close releases the result cache.
func (b *IndexBot) Close() error {
	if b.cache == nil {
		return nil
	}
	return b.cache.Close()
}

func (b *IndexBot) exchangeIDs() []domain.ExchangeID {
	ids := make([]domain.ExchangeID, 0, len(b.venues))
	for _, v := range b.venues {
		ids = append(ids, v.id)
	}
	return ids
}

func (b *IndexBot) listings(ctx context.Context) ([]domain.CoinMarketRecord, error) {
	key := "listings_" + b.conf.PurchasingCurrency
	records, err := cache.Fetch(ctx, b.cache, key, b.markets.Listings)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrMarketDataUnavailable, err)
	}
	return records, nil
}

func (b *IndexBot) venueMarkets(ctx context.Context, v venue) ([]domain.Market, error) {
	markets, err := cache.Fetch(ctx, b.cache, "markets_"+v.id.String(), v.provider.Exchange().ListMarkets)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s markets", v.id)
	}
	// pairs of a paper exchange are listed by its upstream
	for i := range markets {
		markets[i].Exchange = v.id
	}
	return markets, nil
}

func (b *IndexBot) tradability(ctx context.Context) (*universe.Markets, error) {
	var all []domain.Market
	for _, v := range b.venues {
		markets, err := b.venueMarkets(ctx, v)
		if err != nil {
			return nil, err
		}
		all = append(all, markets...)
	}
	return universe.NewMarkets(all...), nil
}

func (b *IndexBot) history(ctx context.Context, records []domain.CoinMarketRecord) map[string][]decimal.Decimal {
	if len(b.venues) == 0 {
		return nil
	}
	v := b.venues[0]
	source := cachedKlines{cache: b.cache, venue: v.id, source: v.provider.Klines()}
	return marketdata.NewHistory(b.l, source, b.conf.PurchasingCurrency, b.conf.SMAInterval, b.conf.SMAPeriod).
		MarketCaps(ctx, records)
}

// cachedKlines caches raw closes per pair. Market cap series are scaled from them on every run.
type cachedKlines struct {
	cache  *cache.Cache
	venue  domain.ExchangeID
	source marketdata.KlineSource
}

func (k cachedKlines) Closes(ctx context.Context, pair domain.Pair, interval string, limit int) ([]decimal.Decimal, error) {
	key := fmt.Sprintf("closes_%s_%s_%s_%d", k.venue, pair.Symbol(), interval, limit)
	return cache.Fetch(ctx, k.cache, key, func(ctx context.Context) ([]decimal.Decimal, error) {
		return k.source.Closes(ctx, pair, interval, limit)
	})
}

// Index returns target allocations of the filtered coin universe.
func (b *IndexBot) Index(ctx context.Context, strategy domain.IndexStrategy, limit int) ([]domain.TargetAllocation, error) {
	if !strategy.IsValid() {
		return nil, errors.Wrapf(domain.ErrConfiguration, "unknown index strategy %q", strategy)
	}

	records, err := b.listings(ctx)
	if err != nil {
		return nil, err
	}
	markets, err := b.tradability(ctx)
	if err != nil {
		return nil, err
	}

	coins := universe.NewFilter(b.l, markets).Filter(
		records,
		b.conf.PurchasingCurrency,
		b.exchangeIDs(),
		b.conf.ExcludeTags,
		b.conf.ExcludeSymbols,
		limit,
	)

	opts := []allocator.Option{allocator.WithSMAPeriod(b.conf.SMAPeriod)}
	if strategy == domain.IndexStrategySMA {
		opts = append(opts, allocator.WithHistory(b.history(ctx, coins)))
	}

	return allocator.New(b.l, opts...).Allocate(coins, strategy, b.conf.PurchasingCurrency)
}

// PortfolioView holdings of one exchange compared with the index.
type PortfolioView struct {
	Exchange          domain.ExchangeID
	Rows              []domain.PortfolioRow
	PurchasingBalance decimal.Decimal
	Total             decimal.Decimal
}

func (b *IndexBot) portfolio(ctx context.Context, id domain.ExchangeID, ex exchange.Adapter, p pricer.Pricer, allocations []domain.TargetAllocation) (PortfolioView, error) {
	balances, err := ex.GetBalances(ctx)
	if err != nil {
		return PortfolioView{}, errors.Wrapf(err, "failed to get %s balances", id)
	}

	symbols := make([]string, 0, len(balances)+len(allocations))
	seen := make(map[string]struct{}, cap(symbols))
	add := func(s string) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			symbols = append(symbols, s)
		}
	}
	for _, a := range allocations {
		add(a.Symbol)
	}
	for _, bal := range balances {
		add(bal.Symbol)
	}

	prices, err := p.Lookup(ctx, symbols)
	if err != nil {
		return PortfolioView{}, errors.Wrapf(domain.ErrMarketDataUnavailable, "%s prices: %s", id, err)
	}

	rows := portfolio.NewDiffer(b.l, b.conf.PurchasingCurrency).Diff(balances, allocations, prices)

	purchasing := decimal.Zero
	for _, bal := range balances {
		if bal.Symbol == b.conf.PurchasingCurrency {
			purchasing = purchasing.Add(bal.Amount)
		}
	}

	return PortfolioView{
		Exchange:          id,
		Rows:              rows,
		PurchasingBalance: purchasing,
		Total:             domain.TotalUSD(rows),
	}, nil
}

// Portfolio compares the holdings of every exchange with the configured index.
func (b *IndexBot) Portfolio(ctx context.Context) ([]PortfolioView, error) {
	if err := b.checkCredentials(); err != nil {
		return nil, err
	}

	allocations, err := b.Index(ctx, b.conf.IndexStrategy, b.conf.IndexLimit)
	if err != nil {
		return nil, err
	}

	views := make([]PortfolioView, 0, len(b.venues))
	for _, v := range b.venues {
		view, err := b.portfolio(ctx, v.id, v.provider.Exchange(), v.provider.Pricer(), allocations)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// BuyOptions flags of a purchase run.
type BuyOptions struct {
	DryRun bool
	// PurchaseBalance replaces the purchasing balance and implies a dry run.
	PurchaseBalance decimal.NullDecimal
	Convert         bool
	CancelStale     bool
	// Strategy overrides the configured buy strategy when valid.
	Strategy domain.BuyStrategy
}

// BuyResult outcome of a purchase run on one exchange.
type BuyResult struct {
	Exchange            domain.ExchangeID
	DryRun              bool
	Cancelled           []domain.ExecutedOrder
	Conversions         converter.Result
	Available           decimal.Decimal
	InsufficientBalance bool
	Plan                []domain.PurchaseInstruction
	Summary             domain.RunSummary
}

func (b *IndexBot) dryRun(requested bool, purchaseBalance decimal.NullDecimal) bool {
	return requested || !b.conf.Livemode || purchaseBalance.Valid
}

// paper returns the adapter to trade on: the exchange itself, or a paper copy in dry run.
func (b *IndexBot) paper(ctx context.Context, v venue, dry bool, opts ...exchange.SimulatedOption) (exchange.Adapter, error) {
	ex := v.provider.Exchange()
	if !dry {
		return ex, nil
	}
	return exchange.Mirror(ctx, b.l, ex, b.conf.PurchasingCurrency, v.provider.Pricer(), opts...)
}

// Buy plans and executes purchases toward the index on every exchange.
func (b *IndexBot) Buy(ctx context.Context, opts BuyOptions) ([]BuyResult, error) {
	if err := b.checkCredentials(); err != nil {
		return nil, err
	}

	strategy := opts.Strategy
	if !strategy.IsValid() {
		strategy = b.conf.BuyStrategy
	}
	dry := b.dryRun(opts.DryRun, opts.PurchaseBalance)

	allocations, err := b.Index(ctx, b.conf.IndexStrategy, b.conf.IndexLimit)
	if err != nil {
		return nil, err
	}

	exec := executor.New(b.l, b.conf.PurchaseMin)
	results := make([]BuyResult, 0, len(b.venues))

	for _, v := range b.venues {
		l := b.l.With(zap.String("exchange", v.id.String()), zap.Bool("dry_run", dry))

		var mirrorOpts []exchange.SimulatedOption
		if opts.PurchaseBalance.Valid {
			mirrorOpts = append(mirrorOpts, exchange.WithQuoteBalance(opts.PurchaseBalance.Decimal))
		}
		ex, err := b.paper(ctx, v, dry, mirrorOpts...)
		if err != nil {
			return nil, err
		}

		result := BuyResult{Exchange: v.id, DryRun: dry}

		if !dry && (opts.CancelStale || b.conf.CancelStaleOrders) {
			cancelled, err := exec.CancelStale(ctx, ex, b.conf.StaleOrderAge, b.now())
			if err != nil {
				l.Warn("failed to cancel stale orders", zap.Error(err))
			}
			result.Cancelled = cancelled
		}

		if !dry && (opts.Convert || b.conf.ConvertStablecoins) {
			balances, err := ex.GetBalances(ctx)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to get %s balances", v.id)
			}
			result.Conversions = converter.New(l, b.conf.Stablecoins, b.conf.PurchasingCurrency, b.conf.PurchaseMin).Convert(ctx, ex, balances)
		}

		view, err := b.portfolio(ctx, v.id, ex, v.provider.Pricer(), allocations)
		if err != nil {
			return nil, err
		}
		result.Available = view.PurchasingBalance

		if view.PurchasingBalance.LessThan(b.conf.PurchaseMin) {
			l.Info("purchasing balance below minimum, nothing to buy",
				zap.String("available", view.PurchasingBalance.String()),
				zap.String("minimum", b.conf.PurchaseMin.String()))
			result.InsufficientBalance = true
			result.Plan = []domain.PurchaseInstruction{}
			results = append(results, result)
			continue
		}

		result.Plan = planner.New(l, strategy).Plan(view.Rows, view.PurchasingBalance, b.conf.PurchaseMin)
		result.Summary = exec.Execute(ctx, result.Plan, ex, strategy)

		l.Info("purchase run finished",
			zap.Int("planned", len(result.Plan)),
			zap.Strings("executed", result.Summary.ExecutedSymbols()),
			zap.Strings("failed", result.Summary.FailedSymbols()),
			zap.Int("dropped", len(result.Summary.Dropped)))

		results = append(results, result)
	}

	return results, nil
}

// ConvertResult stablecoin conversion outcome on one exchange.
type ConvertResult struct {
	Exchange domain.ExchangeID
	DryRun   bool
	Result   converter.Result
}

// Convert sells stablecoin balances into the purchasing currency.
func (b *IndexBot) Convert(ctx context.Context, dryRun bool) ([]ConvertResult, error) {
	if err := b.checkCredentials(); err != nil {
		return nil, err
	}

	dry := b.dryRun(dryRun, decimal.NullDecimal{})
	conv := converter.New(b.l, b.conf.Stablecoins, b.conf.PurchasingCurrency, b.conf.PurchaseMin)

	results := make([]ConvertResult, 0, len(b.venues))
	for _, v := range b.venues {
		ex, err := b.paper(ctx, v, dry)
		if err != nil {
			return nil, err
		}
		balances, err := ex.GetBalances(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get %s balances", v.id)
		}
		results = append(results, ConvertResult{Exchange: v.id, DryRun: dry, Result: conv.Convert(ctx, ex, balances)})
	}
	return results, nil
}

// Analyze counts the coins each exchange lists, overall and in the purchasing currency.
func (b *IndexBot) Analyze(ctx context.Context) ([]domain.MarketStats, error) {
	stats := make([]domain.MarketStats, 0, len(b.venues))
	for _, v := range b.venues {
		markets, err := b.venueMarkets(ctx, v)
		if err != nil {
			return nil, err
		}
		total, inQuote := universe.NewMarkets(markets...).Stats(v.id, b.conf.PurchasingCurrency)
		stats = append(stats, domain.MarketStats{Exchange: v.id, Total: total, InQuote: inQuote})
	}
	return stats, nil
}

// Config returns the configuration the bot runs with.
func (b *IndexBot) Config() config.Config {
	return b.conf
}

// checkCredentials fails before any network call when an exchange needs API keys that are not set.
func (b *IndexBot) checkCredentials() error {
	for _, v := range b.venues {
		switch v.provider.(type) {
		case *binanceProvider, *bybitProvider:
			if err := requireCredentials(v.id, b.conf.Credentials); err != nil {
				return err
			}
		}
	}
	return nil
}
