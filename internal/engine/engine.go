package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"intentbot/internal/config"
	"intentbot/internal/exchange"
	"intentbot/internal/intent"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/models"
	"intentbot/internal/sizing"

	"golang.org/x/sync/errgroup"
)

// Journal receives every order verb the engine sends.
type Journal interface {
	RecordAction(ctx context.Context, record models.ActionRecord) error
}

// Engine reconciles intents against venues on every tick.
type Engine struct {
	cfg     config.EngineConfig
	venues  *exchange.Registry
	intents *intent.Store
	sizer   *sizing.Calculator
	tickers market.TickerSource
	journal Journal
	log     *logger.Logger

	sweep sync.Mutex
	now   func() time.Time
}

func New(cfg config.EngineConfig, venues *exchange.Registry, intents *intent.Store, tickers market.TickerSource, log *logger.Logger) *Engine {
	defaults := config.DefaultEngineConfig()
	if cfg.CancelWorkers <= 0 {
		cfg.CancelWorkers = defaults.CancelWorkers
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = defaults.SweepTimeout
	}
	return &Engine{
		cfg:     cfg,
		venues:  venues,
		intents: intents,
		sizer:   sizing.New(tickers, log),
		tickers: tickers,
		log:     log,
		now:     time.Now,
	}
}

func (e *Engine) WithJournal(j Journal) *Engine {
	e.journal = j
	return e
}

func (e *Engine) Intents() *intent.Store {
	return e.intents
}

// Run ticks until ctx is done. A tick that finds the previous sweep still
// running is skipped.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	e.logEntry().WithField("interval", interval).Info("Цикл намерений запущен.")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.Tick(ctx)
			}()
		}
	}
}

// Tick runs one sweep over all intents. Venues are swept concurrently, the
// intents of one venue in order. It reports false if a sweep was in flight.
func (e *Engine) Tick(ctx context.Context) bool {
	if !e.sweep.TryLock() {
		e.logEntry().Debug("Предыдущий проход ещё выполняется, пропуск.")
		return false
	}
	defer e.sweep.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SweepTimeout)
	defer cancel()

	byVenue := make(map[string][]models.PairState)
	var order []string
	for _, ps := range e.intents.ListIntents() {
		if _, ok := byVenue[ps.Exchange]; !ok {
			order = append(order, ps.Exchange)
		}
		byVenue[ps.Exchange] = append(byVenue[ps.Exchange], ps)
	}

	var g errgroup.Group
	for _, name := range order {
		states := byVenue[name]
		g.Go(func() error {
			for _, ps := range states {
				if ctx.Err() != nil {
					e.logEntry().WithField("exchange", name).Warn("Время прохода истекло, оставшиеся пары перенесены.")
					return nil
				}
				e.stepSafe(ctx, ps)
			}
			return nil
		})
	}
	_ = g.Wait()
	return true
}

// stepSafe isolates one pair: an error or panic is logged and the intent is
// left as it was for the next tick.
func (e *Engine) stepSafe(ctx context.Context, ps models.PairState) {
	entry := e.pairEntry(ps)
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", fmt.Sprint(r)).Error("Паника при обработке пары.")
		}
	}()
	if err := e.step(ctx, ps); err != nil {
		entry.WithError(err).Warn("Не удалось обработать намерение, повтор на следующем тике.")
	}
}
