package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/cryptoindex/config"
	"github.com/vadiminshakov/cryptoindex/internal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/internal/logging"
	"github.com/vadiminshakov/cryptoindex/internal/report"
	"github.com/vadiminshakov/cryptoindex/internal/setup"
)

// session state shared by the commands of one invocation.
type session struct {
	conf   config.Config
	logger *zap.Logger
	bot    *internal.IndexBot
	format report.Format
}

func open(format string) (*session, subcommands.ExitStatus) {
	f, err := report.ParseFormat(format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, subcommands.ExitUsageError
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		return nil, fail(err)
	}

	level := conf.LogLevel
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(level, conf.LogFile)
	if err != nil {
		return nil, fail(errors.Wrap(domain.ErrConfiguration, err.Error()))
	}

	bot, err := internal.NewIndexBot(logger, conf)
	if err != nil {
		return nil, fail(err)
	}

	return &session{conf: conf, logger: logger, bot: bot, format: f}, subcommands.ExitSuccess
}

func (s *session) close() {
	if err := s.bot.Close(); err != nil {
		s.logger.Warn("failed to close result cache", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func (s *session) render(tables ...report.Table) subcommands.ExitStatus {
	if err := report.Render(os.Stdout, s.format, tables...); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// fail prints err and maps configuration errors to the usage exit code.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, domain.ErrConfiguration) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

type indexCmd struct {
	format   string
	strategy string
	limit    string
}

func (*indexCmd) Name() string     { return "index" }
func (*indexCmd) Synopsis() string { return "print the target index" }
func (*indexCmd) Usage() string {
	return `indexbot index [-f md|csv|pretty] [-s market_cap|sqrt_market_cap|sma] [-l n]

  Prints the coins of the index with their target share.
`
}

func (c *indexCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "f", "md", "output format (md, csv, pretty)")
	f.StringVar(&c.strategy, "s", "", "index strategy (defaults to index_strategy)")
	f.StringVar(&c.limit, "l", "", "number of coins, -1 for all (defaults to index_limit)")
}

func (c *indexCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, status := open(c.format)
	if s == nil {
		return status
	}
	defer s.close()

	strategy := s.conf.IndexStrategy
	if c.strategy != "" {
		parsed, err := domain.ParseIndexStrategy(c.strategy)
		if err != nil {
			return fail(err)
		}
		strategy = parsed
	}

	limit := s.conf.IndexLimit
	if c.limit != "" {
		parsed, err := strconv.Atoi(c.limit)
		if err != nil || parsed < -1 {
			return fail(errors.Wrapf(domain.ErrConfiguration, "invalid -l %q", c.limit))
		}
		limit = parsed
	}

	allocations, err := s.bot.Index(ctx, strategy, limit)
	if err != nil {
		return fail(err)
	}
	return s.render(report.IndexTable(allocations, s.conf.PurchasingCurrency))
}

type portfolioCmd struct {
	format string
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "compare holdings with the index" }
func (*portfolioCmd) Usage() string {
	return `indexbot portfolio [-f md|csv|pretty]

  Prints holdings of every configured exchange next to their index target.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "f", "md", "output format (md, csv, pretty)")
}

func (c *portfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, status := open(c.format)
	if s == nil {
		return status
	}
	defer s.close()

	views, err := s.bot.Portfolio(ctx)
	if err != nil {
		return fail(err)
	}

	cur := s.conf.PurchasingCurrency
	var tables []report.Table
	for _, v := range views {
		tables = append(tables,
			report.PortfolioTable(v.Rows, cur),
			report.BalanceTable(v.Exchange, v.PurchasingBalance, v.Total, cur),
		)
	}
	return s.render(tables...)
}

type buyCmd struct {
	format          string
	dryRun          bool
	purchaseBalance string
	convert         bool
	cancelOrders    bool
}

func (*buyCmd) Name() string     { return "buy" }
func (*buyCmd) Synopsis() string { return "buy toward the index" }
func (*buyCmd) Usage() string {
	return `indexbot buy [-d] [-p amount] [-c] [-cancel-orders] [-f md|csv|pretty]

  Plans purchases from the purchasing balance and submits them. Runs dry unless
  livemode is enabled.
`
}

func (c *buyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "f", "md", "output format (md, csv, pretty)")
	f.BoolVar(&c.dryRun, "d", false, "dry run, never submit orders")
	f.StringVar(&c.purchaseBalance, "p", "", "fake purchasing balance (implies -d)")
	f.BoolVar(&c.convert, "c", false, "convert stablecoins into the purchasing currency first")
	f.BoolVar(&c.cancelOrders, "cancel-orders", false, "cancel stale open buy orders first")
}

func (c *buyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, status := open(c.format)
	if s == nil {
		return status
	}
	defer s.close()

	opts := internal.BuyOptions{DryRun: c.dryRun, Convert: c.convert, CancelStale: c.cancelOrders}
	if c.purchaseBalance != "" {
		amount, err := decimal.NewFromString(c.purchaseBalance)
		if err != nil || amount.IsNegative() {
			return fail(errors.Wrapf(domain.ErrConfiguration, "invalid -p %q", c.purchaseBalance))
		}
		opts.PurchaseBalance = decimal.NewNullDecimal(amount)
	}

	results, err := s.bot.Buy(ctx, opts)
	if err != nil {
		return fail(err)
	}

	cur := s.conf.PurchasingCurrency
	var tables []report.Table
	for _, r := range results {
		if r.DryRun {
			fmt.Fprintf(os.Stderr, "%s: dry run, no orders are submitted\n", r.Exchange)
		}
		if len(r.Cancelled) > 0 {
			tables = append(tables, report.OrdersTable("Cancelled orders", r.Cancelled, cur))
		}
		if len(r.Conversions.Converted) > 0 {
			tables = append(tables, report.ConversionTable(r.Conversions.Converted))
		}
		if r.InsufficientBalance {
			fmt.Fprintf(os.Stderr, "%s: purchasing balance %s is below the minimum of %s, nothing to buy\n",
				r.Exchange, report.Money(r.Available, cur), report.Money(s.conf.PurchaseMin, cur))
			continue
		}
		tables = append(tables, report.PlanTable(r.Plan, cur), report.SummaryTable(r.Summary, cur))
		if !r.Summary.Succeeded() {
			fmt.Fprintf(os.Stderr, "%s: %d orders placed, failed: %v\n", r.Exchange, len(r.Summary.Executed), r.Summary.FailedSymbols())
		}
	}

	if len(tables) == 0 {
		return subcommands.ExitSuccess
	}
	return s.render(tables...)
}

type convertCmd struct {
	format string
	dryRun bool
}

func (*convertCmd) Name() string     { return "convert" }
func (*convertCmd) Synopsis() string { return "convert stablecoins into the purchasing currency" }
func (*convertCmd) Usage() string {
	return `indexbot convert [-d] [-f md|csv|pretty]

  Sells configured stablecoin balances into the purchasing currency.
`
}

func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "f", "md", "output format (md, csv, pretty)")
	f.BoolVar(&c.dryRun, "d", false, "dry run, never submit orders")
}

func (c *convertCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, status := open(c.format)
	if s == nil {
		return status
	}
	defer s.close()

	results, err := s.bot.Convert(ctx, c.dryRun)
	if err != nil {
		return fail(err)
	}

	var tables []report.Table
	for _, r := range results {
		if r.DryRun {
			fmt.Fprintf(os.Stderr, "%s: dry run, no orders are submitted\n", r.Exchange)
		}
		for _, failure := range r.Result.Failed {
			fmt.Fprintf(os.Stderr, "%s: failed to convert %s %s: %v\n", r.Exchange, failure.Amount, failure.Symbol, failure.Err)
		}
		tables = append(tables, report.ConversionTable(r.Result.Converted))
	}
	return s.render(tables...)
}

type analyzeCmd struct {
	format string
}

func (*analyzeCmd) Name() string     { return "analyze" }
func (*analyzeCmd) Synopsis() string { return "count coins available per exchange" }
func (*analyzeCmd) Usage() string {
	return `indexbot analyze [-f md|csv|pretty]

  Prints how many coins each exchange lists, overall and in the purchasing currency.
`
}

func (c *analyzeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "f", "md", "output format (md, csv, pretty)")
}

func (c *analyzeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, status := open(c.format)
	if s == nil {
		return status
	}
	defer s.close()

	stats, err := s.bot.Analyze(ctx)
	if err != nil {
		return fail(err)
	}
	return s.render(report.AnalyzeTable(stats, s.conf.PurchasingCurrency))
}

type setupCmd struct {
	output string
}

func (*setupCmd) Name() string     { return "setup" }
func (*setupCmd) Synopsis() string { return "interactive configuration wizard" }
func (*setupCmd) Usage() string {
	return `indexbot setup [-o config.yaml]

  Asks for the index settings and writes them as a yaml config.
`
}

func (c *setupCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", "config.yaml", "path of the config file to write")
}

func (c *setupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := setup.RunTUI(c.output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
