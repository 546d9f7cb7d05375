package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/quote"
)

func newQuoteCmd(flags *globalFlags) *cobra.Command {
	var (
		chainID  uint64
		slippage float64
	)

	cmd := &cobra.Command{
		Use:   "quote FROM TO AMOUNT",
		Short: "Simulate a swap quote from the local rate table",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, closer, err := setupLogging(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			sim, err := newSimulator(cfg, log)
			if err != nil {
				return err
			}

			req := quote.Request{
				From:     args[0],
				To:       args[1],
				AmountIn: args[2],
				ChainID:  chainID,
			}
			if cmd.Flags().Changed("slippage") {
				req.SlippagePercent = &slippage
			}

			res, err := sim.Quote(req)
			if errors.Is(err, quote.ErrUnavailable) {
				fmt.Fprintln(cmd.OutOrStdout(), "No quote available:", err)
				return nil
			}
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&chainID, "chain", chain.EthereumID, "Chain ID")
	cmd.Flags().Float64Var(&slippage, "slippage", 0, "Slippage tolerance in percent, overrides config")
	return cmd
}

func printQuote(w io.Writer, res *quote.Result) {
	fmt.Fprintf(w, "%s %s -> %s %s on %s\n", res.AmountIn, res.From, res.AmountOut, res.To, chain.Name(res.ChainID))
	fmt.Fprintf(w, "  Rate:          1 %s = %s %s\n", res.From, res.ExchangeRate, res.To)
	fmt.Fprintf(w, "  Minimum out:   %s %s (slippage %s%%)\n", res.AmountOutMin, res.To, res.SlippagePercent)
	fmt.Fprintf(w, "  Price impact:  %.2f%% (simulated)\n", res.PriceImpactPercent)
}
