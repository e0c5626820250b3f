package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/arcturus/perpmm/internal/config"
)

// configShowCommand loads and validates a configuration file the same way
// `run` does, then prints the fully-resolved config (defaults applied,
// environment overrides folded in) as JSON — useful for confirming what a
// deployment will actually run with before committing capital to it.
func configShowCommand(args []string) int {
	fs := flag.NewFlagSet("config_show", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration file (required)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "config_show: --config is required")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config_show: %v\n", err)
		return exitError
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config_show: marshal config: %v\n", err)
		return exitError
	}
	fmt.Println(string(out))
	return exitOK
}
