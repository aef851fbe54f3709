// Package setup implements the interactive configuration wizard.
package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/config"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const wizardTitle = "INDEXBOT CONFIG WIZARD"

// answers raw wizard input.
type answers struct {
	exchanges          []string
	binanceTLD         string
	purchasingCurrency string
	indexStrategy      string
	indexLimit         string
	excludeTags        string
	excludeSymbols     string
	buyStrategy        string
	purchaseMin        string
	livemode           bool
	convertStablecoins bool
	cancelStaleOrders  bool
}

func defaultAnswers() answers {
	d := config.Default()
	return answers{
		exchanges:          []string{domain.ExchangeBinance.String()},
		binanceTLD:         d.BinanceTLD,
		purchasingCurrency: d.PurchasingCurrency,
		indexStrategy:      d.IndexStrategy.String(),
		indexLimit:         strconv.Itoa(d.IndexLimit),
		excludeTags:        "stablecoin, wrapped-tokens",
		buyStrategy:        d.BuyStrategy.String(),
		purchaseMin:        d.PurchaseMin.String(),
	}
}

// config converts the answers into a validated configuration.
func (a answers) config() (config.Config, error) {
	cfg := config.Default()

	cfg.Exchanges = cfg.Exchanges[:0]
	for _, e := range a.exchanges {
		id, err := domain.ParseExchangeID(e)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Exchanges = append(cfg.Exchanges, id)
	}
	cfg.BinanceTLD = a.binanceTLD
	cfg.PurchasingCurrency = strings.ToUpper(strings.TrimSpace(a.purchasingCurrency))

	var err error
	if cfg.IndexStrategy, err = domain.ParseIndexStrategy(a.indexStrategy); err != nil {
		return config.Config{}, err
	}
	if cfg.IndexLimit, err = strconv.Atoi(strings.TrimSpace(a.indexLimit)); err != nil {
		return config.Config{}, errors.Wrapf(domain.ErrConfiguration, "index limit %q is not a number", a.indexLimit)
	}
	if cfg.BuyStrategy, err = domain.ParseBuyStrategy(a.buyStrategy); err != nil {
		return config.Config{}, err
	}
	if cfg.PurchaseMin, err = decimal.NewFromString(strings.TrimSpace(a.purchaseMin)); err != nil {
		return config.Config{}, errors.Wrapf(domain.ErrConfiguration, "purchase minimum %q is not a number", a.purchaseMin)
	}

	cfg.ExcludeTags = splitList(a.excludeTags, strings.ToLower)
	cfg.ExcludeSymbols = splitList(a.excludeSymbols, strings.ToUpper)
	cfg.Livemode = a.livemode
	cfg.ConvertStablecoins = a.convertStablecoins
	cfg.CancelStaleOrders = a.cancelStaleOrders

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func splitList(s string, normalize func(string) string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set[normalize(part)] = struct{}{}
		}
	}
	return set
}

func step(title string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render(wizardTitle))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := defaultAnswers()
	var confirm bool

	// step 1: welcome
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(wizardTitle))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's build your index fund.\n"))

	fmt.Println(stepStyle.Render("STEP 1: EXCHANGES"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Where should the index be bought?").
				Options(
					huh.NewOption("Binance", domain.ExchangeBinance.String()),
					huh.NewOption("Bybit", domain.ExchangeBybit.String()),
					huh.NewOption("Simulation", domain.ExchangeSimulate.String()),
				).
				Value(&a.exchanges).
				Validate(func(v []string) error {
					if len(v) == 0 {
						return fmt.Errorf("select at least one exchange")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Binance domain").
				Options(
					huh.NewOption("binance.us", "us"),
					huh.NewOption("binance.com", "com"),
				).
				Value(&a.binanceTLD),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: INDEX")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Purchasing currency").
				Description("Quote currency used to buy coins (e.g. USD, USDT)").
				Value(&a.purchasingCurrency).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("currency cannot be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Weighting").
				Options(
					huh.NewOption("Market cap", domain.IndexStrategyMarketCap.String()),
					huh.NewOption("Square root of market cap", domain.IndexStrategySqrtMarketCap.String()),
					huh.NewOption("Moving average of market cap", domain.IndexStrategySMA.String()),
				).
				Value(&a.indexStrategy),
			huh.NewInput().
				Title("Number of coins").
				Description("-1 keeps every tradable coin").
				Value(&a.indexLimit).
				Validate(validateLimit),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: EXCLUSIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Excluded tags").
				Description("Comma separated CoinMarketCap tags").
				Value(&a.excludeTags),
			huh.NewInput().
				Title("Excluded symbols").
				Description("Comma separated (e.g. DOGE, SHIB)").
				Value(&a.excludeSymbols),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: BUYING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Order type").
				Options(
					huh.NewOption("Market", domain.BuyStrategyMarket.String()),
					huh.NewOption("Limit at ticker price", domain.BuyStrategyLimit.String()),
				).
				Value(&a.buyStrategy),
			huh.NewInput().
				Title("Order size").
				Description("Minimum amount per order in the purchasing currency").
				Value(&a.purchaseMin).
				Validate(validateAmount),
			huh.NewConfirm().
				Title("Convert stablecoins before buying?").
				Value(&a.convertStablecoins),
			huh.NewConfirm().
				Title("Cancel stale open orders before buying?").
				Value(&a.cancelStaleOrders),
			huh.NewConfirm().
				Title("Enable live trading?").
				Description("Without live mode every run is a dry run").
				Value(&a.livemode),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg, err := a.config()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Exchanges: %s\nCurrency: %s\nIndex: %s (limit %d)\nOrders: %s of %s\nLive: %t\n",
		strings.Join(a.exchanges, ", "), cfg.PurchasingCurrency, cfg.IndexStrategy, cfg.IndexLimit,
		cfg.BuyStrategy, cfg.PurchaseMin, cfg.Livemode,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := write(path, cfg); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("API keys are read from the environment or .env"))
	return nil
}

func write(path string, cfg config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func validateAmount(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateLimit(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < -1 {
		return fmt.Errorf("must be -1 or more")
	}
	return nil
}
