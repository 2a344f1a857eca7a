package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"intentbot/internal/engine"
	"intentbot/internal/intent"
	"intentbot/internal/watchdog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newEngine wires the intent store, its persister and the journal.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, error) {
	intents := intent.NewStore()
	if a.store != nil {
		intents = intents.WithPersister(a.store, a.log)
	}
	eng := engine.New(a.cfg.Engine, a.venues, intents, a.tickers, a.log)
	if a.store == nil {
		return eng, nil
	}
	eng.WithJournal(a.store)
	if a.cfg.Runtime.RestoreStateOnStart {
		n, err := eng.Restore(ctx, a.store)
		if err != nil {
			return nil, err
		}
		a.log.WithComponent("main").WithField("intents", n).Info("Намерения восстановлены.")
	}
	return eng, nil
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	wd := watchdog.New(a.cfg.Pairs, a.venues, eng.Intents(), a.tickers, eng, a.log)

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range a.loops {
		g.Go(func() error { return run(gctx) })
	}
	for _, ex := range a.venues.All() {
		source, ok := a.sources[ex.Name()]
		if !ok {
			continue
		}
		g.Go(func() error {
			wd.HandleEvents(gctx, ex, source.Events())
			return nil
		})
	}
	g.Go(func() error { return eng.Run(gctx, a.cfg.Runtime.SweepInterval) })
	g.Go(func() error { return wd.Run(gctx, a.cfg.Watchdog.Interval) })

	err = g.Wait()
	a.log.Info("Бот остановлен.")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
