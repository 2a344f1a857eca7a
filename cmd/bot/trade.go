package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intentbot/internal/models"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type tradeOptions struct {
	capitalKind string
	capital     float64
	market      bool
	wait        time.Duration
}

func newTradeCmd() *cobra.Command {
	opts := &tradeOptions{}
	cmd := &cobra.Command{
		Use:   "trade EXCHANGE SYMBOL long|short|close|cancel",
		Short: "Set the intent of a pair and reconcile until it is reached",
		Long: `Writes the intent of a pair. With --wait the engine runs in this process
until the intent is resolved; with --wait=0 the intent is only saved and the
bot picks it up on its next start. Do not run it next to a live bot.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrade(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.capitalKind, "capital-kind", string(models.CapitalBalancePercent), "balance_percent, currency or asset")
	cmd.Flags().Float64Var(&opts.capital, "capital", 0, "capital amount for long and short")
	cmd.Flags().BoolVar(&opts.market, "market", false, "close with a market order")
	cmd.Flags().DurationVar(&opts.wait, "wait", 2*time.Minute, "how long to reconcile before giving up")
	return cmd
}

func runTrade(cmd *cobra.Command, args []string, opts *tradeOptions) error {
	exchangeName, symbol := args[0], args[1]
	state, err := models.ParseIntentState(args[2])
	if err != nil {
		return err
	}

	var capital *models.CapitalSpec
	if _, directional := state.Side(); directional {
		capital = &models.CapitalSpec{Kind: models.CapitalKind(opts.capitalKind), Value: opts.capital}
		if err := capital.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, ok := a.venues.Get(exchangeName); !ok {
		return fmt.Errorf("Биржа %q не настроена", exchangeName)
	}
	if opts.wait <= 0 && a.store == nil {
		return errors.New("Без storage.sqlite_path намерение некуда сохранить, нужен --wait")
	}

	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	intents := eng.Intents()
	ps, err := intents.SetIntent(exchangeName, symbol, state, capital, models.IntentOptions{Market: opts.market})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "intent %s: %s %s %s\n", ps.ID, exchangeName, symbol, state)
	if opts.wait <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.wait)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, run := range a.loops {
		g.Go(func() error { return run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(a.cfg.Runtime.SweepInterval)
		defer ticker.Stop()
		for {
			eng.Tick(gctx)
			if intents.IsNeutral(exchangeName, symbol) {
				return nil
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
	})
	err = g.Wait()

	if intents.IsNeutral(exchangeName, symbol) {
		fmt.Fprintln(out, "intent resolved")
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "intent still pending, it stays saved for the next start")
		return nil
	}
	return err
}
