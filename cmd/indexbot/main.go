// Command indexbot keeps an exchange portfolio close to a market cap weighted crypto index.
//
// Usage:
//
//	indexbot [-config config.yaml] [-v] <command> [flags]
//
// Commands: index, portfolio, buy, convert, analyze, setup.
//
// Environment variables (also read from .env):
//
//	COINMARKETCAP_API_KEY
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	INDEXBOT_LIVEMODE, INDEXBOT_CACHE_DIR
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

var (
	configPath = flag.String("config", "", "path to yaml config")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&indexCmd{}, "index")
	commander.Register(&analyzeCmd{}, "index")
	commander.Register(&portfolioCmd{}, "account")
	commander.Register(&buyCmd{}, "account")
	commander.Register(&convertCmd{}, "account")
	commander.Register(&setupCmd{}, "")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(int(commander.Execute(ctx)))
}
