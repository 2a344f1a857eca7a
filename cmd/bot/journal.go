package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"intentbot/internal/store"

	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	var filter store.ActionFilter
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the order actions sent to venues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			if s == nil {
				return errors.New("Не задан storage.sqlite_path")
			}
			defer s.Close()

			records, err := s.ListActions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEXCHANGE\tSYMBOL\tVERB\tORDER\tSIDE\tTYPE\tPRICE\tAMOUNT\tSTATUS\tERROR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%g\t%g\t%s\t%s\n",
					r.Time.Format(time.DateTime), r.Exchange, r.Symbol, r.Verb, r.OrderID,
					r.Side, r.Type, r.Price, r.Amount, r.Status, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Exchange, "exchange", "", "only this exchange")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only this symbol")
	cmd.Flags().StringVar(&filter.IntentID, "intent", "", "only this intent")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "most recent records to show, 0 for all")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and check the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ex := range cfg.Exchanges {
				fmt.Fprintf(out, "exchange %s (%s): %d pairs\n", ex.Name, ex.Kind, len(cfg.Symbols(ex.Name)))
			}
			for _, p := range cfg.Pairs {
				fmt.Fprintf(out, "pair %s/%s: %d watchdogs\n", p.Exchange, p.Symbol, len(p.Watchdogs))
			}
			fmt.Fprintln(out, "config ok")
			return nil
		},
	}
}
