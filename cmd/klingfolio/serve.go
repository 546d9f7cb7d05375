package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/prices"
	"github.com/Klingon-tech/klingfolio/internal/rpc"
	"github.com/Klingon-tech/klingfolio/pkg/logging"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC and websocket daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if apiAddr != "" {
				a.cfg.RPC.Addr = apiAddr
			}
			return serve(a)
		},
	}

	cmd.Flags().StringVar(&apiAddr, "api", "", "JSON-RPC API address, overrides config")
	return cmd
}

func serve(a *app) error {
	log := a.log

	rpcServer, err := rpc.NewServer(&rpc.Config{
		Portfolio:       a.portfolio,
		Prices:          a.prices,
		Registry:        a.registry,
		Balances:        a.balances,
		Quotes:          a.quotes,
		QuoteDebounce:   a.cfg.Quote.Debounce,
		DeadlineMinutes: a.cfg.Quote.DeadlineMinutes,
		Logger:          log.Component("rpc"),
	})
	if err != nil {
		return err
	}
	if err := rpcServer.Start(a.cfg.RPC.Addr); err != nil {
		return err
	}

	var refresher *prices.Refresher
	if a.cfg.Prices.RefreshSchedule != "" {
		rc := prices.DefaultRefresherConfig()
		rc.Schedule = a.cfg.Prices.RefreshSchedule
		rc.IDs = a.portfolio.PriceIDs
		rc.Logger = log.Component("price-refresher")
		refresher, err = prices.NewRefresher(a.prices, rc)
		if err != nil {
			rpcServer.Stop()
			return err
		}
		refresher.Start()
	}

	printBanner(log, a, rpcServer.Addr())

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if refresher != nil {
		refresher.Stop()
	}
	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
	return nil
}

func printBanner(log *logging.Logger, a *app, apiAddr string) {
	counts := a.portfolio.Counts()

	log.Info("")
	log.Info("=================================================")
	log.Info("  Klingfolio Token Valuation Daemon")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Infof("  Metrics: http://%s/metrics", apiAddr)
	log.Info("")
	log.Infof("  Favorites: %d", counts.Total)
	for _, p := range chain.List() {
		if n := counts.ByChain[p.ChainID]; n > 0 {
			log.Infof("    %s: %d", p.Name, n)
		}
	}
	log.Infof("  Storage: %s | Prices: %s", a.cfg.Storage.Backend, a.cfg.Prices.Endpoint)
	log.Infof("  Data dir: %s", a.cfg.ExpandedDataDir())
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
