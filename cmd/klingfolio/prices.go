package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingfolio/internal/prices"
	"github.com/Klingon-tech/klingfolio/internal/valuation"
)

func newPricesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prices SYMBOL...",
		Short: "Fetch USD prices for token symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ids := make([]string, 0, len(args))
			symbolOf := make(map[string]string, len(args))
			for _, sym := range args {
				sym = strings.ToUpper(sym)
				id, ok := a.registry.ID(sym)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s unknown symbol\n", sym)
					continue
				}
				ids = append(ids, id)
				symbolOf[id] = sym
			}
			if len(ids) == 0 {
				return nil
			}

			entries, err := a.prices.GetPrices(cmd.Context(), ids)
			if err != nil && prices.MissingIDs(err) == nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range ids {
				e, ok := entries[id]
				if !ok {
					fmt.Fprintf(out, "%-8s unavailable\n", symbolOf[id])
					continue
				}
				line := fmt.Sprintf("%-8s %s", symbolOf[id], valuation.FormatUSD(e.USD))
				if e.Stale {
					line += " (stale)"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
