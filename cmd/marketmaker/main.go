// Command marketmaker is the single entrypoint binary for the
// market-making engine, dispatching to the control commands named in
// spec §6: run, status, stop, config_show, sweep. Grounded on the
// teacher's cmd/binance-spot/main.go (logrus JSON formatter, viper-backed
// config, os/signal graceful shutdown) and cmd/backtest/main.go (plain
// flag.FlagSet per invocation, no subcommand library).
package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

func decimalDefault(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "status":
		code = statusCommand(os.Args[2:])
	case "stop":
		code = stopCommand(os.Args[2:])
	case "config_show":
		code = configShowCommand(os.Args[2:])
	case "sweep":
		code = sweepCommand(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		code = exitOK
	default:
		fmt.Fprintf(os.Stderr, "marketmaker: unknown command %q\n", os.Args[1])
		usage()
		code = exitUsage
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: marketmaker <command> [flags]

commands:
  run          run the market-maker loop (paper_exchange or dry_run mode)
  status       print the last persisted state.json
  stop         request a running instance to shut down
  config_show  load, validate, and print a configuration file
  sweep        run a parameter sweep over a recorded order-book replay`)
}
