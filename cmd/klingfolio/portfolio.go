package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/portfolio"
	"github.com/Klingon-tech/klingfolio/internal/valuation"
	"github.com/Klingon-tech/klingfolio/pkg/helpers"
)

func newPortfolioCmd(flags *globalFlags) *cobra.Command {
	var req portfolio.ValuateRequest

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Value favorites in USD",
		Long: "Value favorites in USD. With --owner, quantities are read from the chain;\n" +
			"otherwise the configured placeholder quantity is used, if any.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, cmd, func(a *app) error {
				report, err := a.portfolio.Valuate(cmd.Context(), req)
				if err != nil {
					return err
				}

				decimals := make(map[chain.Identity]uint8)
				for _, f := range a.favorites.List() {
					decimals[f.Identity()] = f.Decimals
				}
				printReport(cmd.OutOrStdout(), report, decimals)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Owner, "owner", "", "Wallet address to read balances for")
	cmd.Flags().Uint64Var(&req.ChainID, "chain", 0, "Only value favorites on this chain (0 for all)")
	return cmd
}

func printReport(w io.Writer, r *portfolio.Report, decimals map[chain.Identity]uint8) {
	if len(r.Valuations) == 0 {
		fmt.Fprintln(w, "No favorites")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tCHAIN\tQUANTITY\tPRICE\tVALUE")
	for _, v := range r.Valuations {
		qty := valuation.Unavailable
		if v.QuantitySource != valuation.QuantityUnknown {
			qty = helpers.FormatTokenAmount(v.Quantity, decimals[v.Identity])
			if v.QuantitySource == valuation.QuantityPlaceholder {
				qty += " *"
			}
		}
		price := valuation.Unavailable
		if v.Priced {
			price = "$" + helpers.FormatDisplay(v.UnitPriceUSD)
			if v.Stale {
				price += " (stale)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Symbol, chain.Name(v.Identity.ChainID()), qty, price, v.Display)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nTotal: %s (%d of %d priced)\n", r.Summary.Display, r.Summary.Priced, r.Summary.Count)

	if len(r.BalanceErrors) > 0 {
		ids := make([]uint64, 0, len(r.BalanceErrors))
		for id := range r.BalanceErrors {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Fprintf(w, "Balances unavailable on %s: %s\n", chain.Name(id), r.BalanceErrors[id])
		}
	}
}
