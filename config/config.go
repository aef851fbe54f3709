// Package config loads the index bot configuration from a YAML file and the environment.
package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	defaultPurchasingCurrency = "USD"
	defaultBinanceTLD         = "us"
	defaultIndexLimit         = -1
	defaultPurchaseMin        = "10"
	defaultStaleOrderAge      = 72 * time.Hour
	defaultSMAPeriod          = 30
	defaultSMAInterval        = "1d"
	defaultCacheTTL           = 30 * time.Minute
	defaultCacheDir           = "./wal/cache"
	defaultLogLevel           = "info"
	defaultSimulateBalance    = "10000"
)

var defaultStablecoins = []string{"USDT", "USDC", "BUSD", "DAI", "TUSD", "USDP"}

// Credentials API keys read from the environment.
type Credentials struct {
	BinanceAPIKey       string
	BinanceAPISecret    string
	BybitAPIKey         string
	BybitAPISecret      string
	CoinMarketCapAPIKey string
}

type Config struct {
	PurchasingCurrency string
	Exchanges          []domain.ExchangeID
	// BinanceTLD selects binance.us ("us") or binance.com ("com").
	BinanceTLD         string
	ExcludeTags        map[string]struct{}
	ExcludeSymbols     map[string]struct{}
	IndexLimit         int
	IndexStrategy      domain.IndexStrategy
	BuyStrategy        domain.BuyStrategy
	PurchaseMin        decimal.Decimal
	Livemode           bool
	ConvertStablecoins bool
	CancelStaleOrders  bool
	StaleOrderAge      time.Duration
	Stablecoins        []string
	SMAPeriod          int
	SMAInterval        string
	CacheTTL           time.Duration
	CacheDir           string
	LogLevel           string
	LogFile            string
	// SimulateBalance purchasing currency balance of the simulated exchange.
	SimulateBalance decimal.Decimal
	Credentials     Credentials
}

type configTmp struct {
	PurchasingCurrency string   `yaml:"purchasing_currency,omitempty"`
	Exchanges          []string `yaml:"exchanges,omitempty"`
	BinanceTLD         string   `yaml:"binance_tld,omitempty"`
	ExcludeTags        []string `yaml:"exclude_tags,omitempty"`
	ExcludeSymbols     []string `yaml:"exclude_symbols,omitempty"`
	IndexLimitStr      string   `yaml:"index_limit,omitempty"`
	IndexStrategy      string   `yaml:"index_strategy,omitempty"`
	BuyStrategy        string   `yaml:"buy_strategy,omitempty"`
	PurchaseMinStr     string   `yaml:"purchase_min,omitempty"`
	Livemode           bool     `yaml:"livemode"`
	ConvertStablecoins bool     `yaml:"convert_stablecoins"`
	CancelStaleOrders  bool     `yaml:"cancel_stale_orders"`
	StaleOrderAgeStr   string   `yaml:"stale_order_age,omitempty"`
	Stablecoins        []string `yaml:"stablecoins,omitempty"`
	SMAPeriodStr       string   `yaml:"sma_period,omitempty"`
	SMAInterval        string   `yaml:"sma_interval,omitempty"`
	CacheTTLStr        string   `yaml:"cache_ttl,omitempty"`
	CacheDir           string   `yaml:"cache_dir,omitempty"`
	LogLevel           string   `yaml:"log_level,omitempty"`
	LogFile            string   `yaml:"log_file,omitempty"`
	SimulateBalanceStr string   `yaml:"simulate_balance,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		PurchasingCurrency: defaultPurchasingCurrency,
		Exchanges:          []domain.ExchangeID{domain.ExchangeBinance},
		BinanceTLD:         defaultBinanceTLD,
		ExcludeTags:        map[string]struct{}{},
		ExcludeSymbols:     map[string]struct{}{},
		IndexLimit:         defaultIndexLimit,
		IndexStrategy:      domain.IndexStrategyMarketCap,
		BuyStrategy:        domain.BuyStrategyMarket,
		PurchaseMin:        decimal.RequireFromString(defaultPurchaseMin),
		StaleOrderAge:      defaultStaleOrderAge,
		Stablecoins:        append([]string(nil), defaultStablecoins...),
		SMAPeriod:          defaultSMAPeriod,
		SMAInterval:        defaultSMAInterval,
		CacheTTL:           defaultCacheTTL,
		CacheDir:           defaultCacheDir,
		LogLevel:           defaultLogLevel,
		SimulateBalance:    decimal.RequireFromString(defaultSimulateBalance),
	}
}

// Load reads .env, the YAML file at path (optional) and the environment, then validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(domain.ErrConfiguration, "failed to load .env: "+err.Error())
	}

	cfg := Default()
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(domain.ErrConfiguration, "failed to read config %s: %s", path, err)
		}
		cfg, err = Parse(f)
		if err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse decodes YAML content on top of the defaults.
func Parse(data []byte) (Config, error) {
	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrapf(domain.ErrConfiguration, "incorrect yaml config: %s", err)
	}

	cfg := Default()
	var err error

	if tmp.PurchasingCurrency != "" {
		cfg.PurchasingCurrency = strings.ToUpper(strings.TrimSpace(tmp.PurchasingCurrency))
	}
	if len(tmp.Exchanges) > 0 {
		cfg.Exchanges = cfg.Exchanges[:0]
		for _, e := range tmp.Exchanges {
			id, err := domain.ParseExchangeID(e)
			if err != nil {
				return Config{}, errors.Wrap(err, "incorrect 'exchanges' param in yaml config")
			}
			cfg.Exchanges = append(cfg.Exchanges, id)
		}
	}
	if tmp.BinanceTLD != "" {
		cfg.BinanceTLD = strings.ToLower(strings.TrimSpace(tmp.BinanceTLD))
	}
	cfg.ExcludeTags = toSet(tmp.ExcludeTags, strings.ToLower)
	cfg.ExcludeSymbols = toSet(tmp.ExcludeSymbols, strings.ToUpper)

	if tmp.IndexLimitStr != "" {
		if cfg.IndexLimit, err = strconv.Atoi(tmp.IndexLimitStr); err != nil {
			return Config{}, invalid("index_limit", "an integer", err)
		}
	}
	if tmp.IndexStrategy != "" {
		if cfg.IndexStrategy, err = domain.ParseIndexStrategy(tmp.IndexStrategy); err != nil {
			return Config{}, err
		}
	}
	if tmp.BuyStrategy != "" {
		if cfg.BuyStrategy, err = domain.ParseBuyStrategy(tmp.BuyStrategy); err != nil {
			return Config{}, err
		}
	}
	if tmp.PurchaseMinStr != "" {
		if cfg.PurchaseMin, err = decimal.NewFromString(tmp.PurchaseMinStr); err != nil {
			return Config{}, invalid("purchase_min", "a decimal", err)
		}
	}

	cfg.Livemode = tmp.Livemode
	cfg.ConvertStablecoins = tmp.ConvertStablecoins
	cfg.CancelStaleOrders = tmp.CancelStaleOrders

	if tmp.StaleOrderAgeStr != "" {
		if cfg.StaleOrderAge, err = time.ParseDuration(tmp.StaleOrderAgeStr); err != nil {
			return Config{}, invalid("stale_order_age", "a duration", err)
		}
	}
	if len(tmp.Stablecoins) > 0 {
		cfg.Stablecoins = cfg.Stablecoins[:0]
		for _, s := range tmp.Stablecoins {
			cfg.Stablecoins = append(cfg.Stablecoins, strings.ToUpper(strings.TrimSpace(s)))
		}
	}
	if tmp.SMAPeriodStr != "" {
		if cfg.SMAPeriod, err = strconv.Atoi(tmp.SMAPeriodStr); err != nil {
			return Config{}, invalid("sma_period", "an integer", err)
		}
	}
	if tmp.SMAInterval != "" {
		cfg.SMAInterval = tmp.SMAInterval
	}
	if tmp.CacheTTLStr != "" {
		if cfg.CacheTTL, err = time.ParseDuration(tmp.CacheTTLStr); err != nil {
			return Config{}, invalid("cache_ttl", "a duration", err)
		}
	}
	if tmp.CacheDir != "" {
		cfg.CacheDir = tmp.CacheDir
	}
	if tmp.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(tmp.LogLevel)
	}
	cfg.LogFile = tmp.LogFile
	if tmp.SimulateBalanceStr != "" {
		if cfg.SimulateBalance, err = decimal.NewFromString(tmp.SimulateBalanceStr); err != nil {
			return Config{}, invalid("simulate_balance", "a decimal", err)
		}
	}

	return cfg, nil
}

// Marshal encodes the configuration as YAML. Credentials are never written.
func (c Config) Marshal() ([]byte, error) {
	exchanges := make([]string, 0, len(c.Exchanges))
	for _, e := range c.Exchanges {
		exchanges = append(exchanges, e.String())
	}

	tmp := configTmp{
		PurchasingCurrency: c.PurchasingCurrency,
		Exchanges:          exchanges,
		BinanceTLD:         c.BinanceTLD,
		ExcludeTags:        fromSet(c.ExcludeTags),
		ExcludeSymbols:     fromSet(c.ExcludeSymbols),
		IndexLimitStr:      strconv.Itoa(c.IndexLimit),
		IndexStrategy:      c.IndexStrategy.String(),
		BuyStrategy:        c.BuyStrategy.String(),
		PurchaseMinStr:     c.PurchaseMin.String(),
		Livemode:           c.Livemode,
		ConvertStablecoins: c.ConvertStablecoins,
		CancelStaleOrders:  c.CancelStaleOrders,
		StaleOrderAgeStr:   c.StaleOrderAge.String(),
		Stablecoins:        c.Stablecoins,
		SMAPeriodStr:       strconv.Itoa(c.SMAPeriod),
		SMAInterval:        c.SMAInterval,
		CacheTTLStr:        c.CacheTTL.String(),
		CacheDir:           c.CacheDir,
		LogLevel:           c.LogLevel,
		LogFile:            c.LogFile,
		SimulateBalanceStr: c.SimulateBalance.String(),
	}

	out, err := yaml.Marshal(tmp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode config")
	}
	return out, nil
}

// Validate checks the configuration before any network call is made.
func (c Config) Validate() error {
	if c.PurchasingCurrency == "" {
		return errors.Wrap(domain.ErrConfiguration, "purchasing_currency must be set")
	}
	if len(c.Exchanges) == 0 {
		return errors.Wrap(domain.ErrConfiguration, "at least one exchange must be configured")
	}
	for _, e := range c.Exchanges {
		if !e.IsValid() {
			return errors.Wrapf(domain.ErrConfiguration, "unsupported exchange %q", e)
		}
	}
	if c.BinanceTLD != "us" && c.BinanceTLD != "com" {
		return errors.Wrapf(domain.ErrConfiguration, "binance_tld must be us or com, got %q", c.BinanceTLD)
	}
	if c.IndexLimit < -1 {
		return errors.Wrapf(domain.ErrConfiguration, "index_limit must be -1 (unlimited) or positive, got %d", c.IndexLimit)
	}
	if !c.IndexStrategy.IsValid() {
		return errors.Wrapf(domain.ErrConfiguration, "unknown index strategy %q", c.IndexStrategy)
	}
	if !c.BuyStrategy.IsValid() {
		return errors.Wrapf(domain.ErrConfiguration, "unknown buy strategy %q", c.BuyStrategy)
	}
	if !c.PurchaseMin.IsPositive() {
		return errors.Wrapf(domain.ErrConfiguration, "purchase_min must be positive, got %s", c.PurchaseMin)
	}
	if c.StaleOrderAge <= 0 {
		return errors.Wrap(domain.ErrConfiguration, "stale_order_age must be positive")
	}
	if c.SMAPeriod < 1 {
		return errors.Wrapf(domain.ErrConfiguration, "sma_period must be at least 1, got %d", c.SMAPeriod)
	}
	if c.SimulateBalance.IsNegative() {
		return errors.Wrap(domain.ErrConfiguration, "simulate_balance must not be negative")
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	c.Credentials = Credentials{
		BinanceAPIKey:       get("BINANCE_API_KEY"),
		BinanceAPISecret:    get("BINANCE_API_SECRET"),
		BybitAPIKey:         get("BYBIT_API_KEY"),
		BybitAPISecret:      get("BYBIT_API_SECRET"),
		CoinMarketCapAPIKey: get("COINMARKETCAP_API_KEY"),
	}

	if v := get("INDEXBOT_LIVEMODE"); v != "" {
		live, err := strconv.ParseBool(v)
		if err != nil {
			return invalid("INDEXBOT_LIVEMODE", "a boolean", err)
		}
		c.Livemode = live
	}
	if v := get("INDEXBOT_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	return nil
}

func invalid(param, format string, err error) error {
	return errors.Wrapf(domain.ErrConfiguration, "incorrect '%s' param in yaml config (must be %s): %s", param, format, err)
}

func toSet(values []string, normalize func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[normalize(v)] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
