// Package main provides klingfolio - a token favorites, valuation and swap
// quote daemon with a small command line client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	dataDir    string
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "klingfolio",
		Short:         "Token favorites, portfolio valuation and simulated swap quotes",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dataDir, "data-dir", "~/.klingfolio", "Data directory")
	pf.StringVar(&flags.configFile, "config", "", "Config file path (default: <data-dir>/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides config")

	root.AddCommand(
		newServeCmd(flags),
		newQuoteCmd(flags),
		newFavoritesCmd(flags),
		newPricesCmd(flags),
		newPortfolioCmd(flags),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
