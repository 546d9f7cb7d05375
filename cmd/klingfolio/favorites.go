package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingfolio/internal/chain"
	"github.com/Klingon-tech/klingfolio/internal/favorites"
)

func newFavoritesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage favorite tokens",
	}
	cmd.AddCommand(
		newFavoritesListCmd(flags),
		newFavoritesAddCmd(flags),
		newFavoritesQuickAddCmd(flags),
		newFavoritesRemoveCmd(flags),
		newFavoritesClearCmd(flags),
	)
	return cmd
}

// withApp runs fn with a fully wired app and closes it afterwards.
func withApp(flags *globalFlags, cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newFavoritesListCmd(flags *globalFlags) *cobra.Command {
	var chainID uint64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List favorites, optionally for one chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, cmd, func(a *app) error {
				favs := a.favorites.List()
				if chainID != 0 {
					favs = a.favorites.ListByChain(chainID)
				}
				printFavorites(cmd.OutOrStdout(), favs)
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&chainID, "chain", 0, "Only list favorites on this chain")
	return cmd
}

func newFavoritesAddCmd(flags *globalFlags) *cobra.Command {
	in := favorites.NewToken{}

	cmd := &cobra.Command{
		Use:   "add ADDRESS",
		Short: "Add a token by address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Address = args[0]
			return withApp(flags, cmd, func(a *app) error {
				tok, added, err := a.portfolio.AddFavorite(in)
				if err != nil {
					return err
				}
				reportAdd(cmd.OutOrStdout(), tok, added)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Symbol, "symbol", "", "Token symbol")
	f.StringVar(&in.Name, "name", "", "Token name")
	f.Uint8Var(&in.Decimals, "decimals", chain.DefaultDecimals, "Token decimals")
	f.Uint64Var(&in.ChainID, "chain", chain.EthereumID, "Chain ID")
	f.StringVar(&in.Note, "note", "", "Free-form note")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

func newFavoritesQuickAddCmd(flags *globalFlags) *cobra.Command {
	var chainID uint64

	cmd := &cobra.Command{
		Use:   "quick-add SYMBOL",
		Short: "Add a well-known token by symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, cmd, func(a *app) error {
				tok, added, err := a.portfolio.QuickAdd(args[0], chainID)
				if err != nil {
					return err
				}
				reportAdd(cmd.OutOrStdout(), tok, added)
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&chainID, "chain", chain.EthereumID, "Chain ID")
	return cmd
}

func newFavoritesRemoveCmd(flags *globalFlags) *cobra.Command {
	var chainID uint64

	cmd := &cobra.Command{
		Use:   "remove ADDRESS",
		Short: "Remove a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, cmd, func(a *app) error {
				removed, err := a.favorites.Remove(args[0], chainID)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintln(cmd.OutOrStdout(), "Removed", args[0])
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Not a favorite:", args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&chainID, "chain", chain.EthereumID, "Chain ID")
	return cmd
}

func newFavoritesClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every favorite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, cmd, func(a *app) error {
				if err := a.favorites.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared favorites")
				return nil
			})
		},
	}
}

func reportAdd(w io.Writer, tok favorites.Token, added bool) {
	if !added {
		fmt.Fprintf(w, "Already a favorite: %s on %s\n", tok.Symbol, chain.Name(tok.ChainID))
		return
	}
	fmt.Fprintf(w, "Added %s (%s) on %s\n", tok.Symbol, tok.Address, chain.Name(tok.ChainID))
}

func printFavorites(w io.Writer, favs []favorites.Token) {
	if len(favs) == 0 {
		fmt.Fprintln(w, "No favorites")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tCHAIN\tADDRESS\tDECIMALS\tADDED")
	for _, f := range favs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.Symbol, chain.Name(f.ChainID), f.Address, f.Decimals, f.AddedAt.Format("2006-01-02"))
	}
	tw.Flush()
}
