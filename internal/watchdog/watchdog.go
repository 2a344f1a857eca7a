package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"intentbot/internal/config"
	"intentbot/internal/exchange"
	"intentbot/internal/intent"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/models"
	"intentbot/internal/planner"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Executor is the order path shared with the intent engine.
type Executor interface {
	Execute(ctx context.Context, ex exchange.Exchange, action planner.Action) (*models.ExchangeOrder, error)
}

type pairKey struct {
	exchange string
	symbol   string
}

// Engine keeps protective orders in line with open positions.
type Engine struct {
	venues   *exchange.Registry
	intents  *intent.Store
	tickers  market.TickerSource
	exec     Executor
	log      *logger.Logger
	timeout  time.Duration
	watchers map[pairKey][]config.WatchdogSpec
	locks    map[pairKey]*sync.Mutex

	sweep sync.Mutex
}

func New(pairs []config.PairConfig, venues *exchange.Registry, intents *intent.Store, tickers market.TickerSource, exec Executor, log *logger.Logger) *Engine {
	watchers := make(map[pairKey][]config.WatchdogSpec)
	locks := make(map[pairKey]*sync.Mutex)
	for _, p := range pairs {
		if len(p.Watchdogs) == 0 {
			continue
		}
		k := pairKey{p.Exchange, p.Symbol}
		watchers[k] = append(watchers[k], p.Watchdogs...)
		locks[k] = &sync.Mutex{}
	}
	return &Engine{
		venues:   venues,
		intents:  intents,
		tickers:  tickers,
		exec:     exec,
		log:      log,
		timeout:  2 * time.Minute,
		watchers: watchers,
		locks:    locks,
	}
}

func (w *Engine) Run(ctx context.Context, interval time.Duration) error {
	w.logEntry().WithFields(logrus.Fields{
		"interval": interval,
		"pairs":    len(w.watchers),
	}).Info("Цикл вотчдогов запущен.")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick sweeps every venue once. It reports false if a sweep was in flight.
func (w *Engine) Tick(ctx context.Context) bool {
	if !w.sweep.TryLock() {
		w.logEntry().Debug("Предыдущий проход вотчдогов ещё выполняется, пропуск.")
		return false
	}
	defer w.sweep.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, ex := range w.venues.All() {
		g.Go(func() error {
			w.sweepVenue(ctx, ex)
			return nil
		})
	}
	_ = g.Wait()
	return true
}

func (w *Engine) sweepVenue(ctx context.Context, ex exchange.Exchange) {
	for _, position := range ex.Positions() {
		if ctx.Err() != nil {
			return
		}
		if err := w.CheckPosition(ctx, ex, position); err != nil {
			w.log.WithExchange("watchdog", ex.Name()).WithField("symbol", position.Symbol).
				WithError(err).Warn("Вотчдог завершился с ошибкой.")
		}
	}
}

// CheckPosition runs every watchdog configured for the position's pair. Sweeps
// and position events for one pair are serialized.
func (w *Engine) CheckPosition(ctx context.Context, ex exchange.Exchange, position models.Position) (err error) {
	k := pairKey{ex.Name(), position.Symbol}
	specs := w.watchers[k]
	if len(specs) == 0 || position.Amount == 0 {
		return nil
	}
	lock := w.locks[k]
	lock.Lock()
	defer lock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в вотчдоге: %v", r)
		}
	}()

	ticker, ok := w.tickers.Ticker(ex.Name(), position.Symbol)
	if !ok {
		w.pairEntry(ex, position.Symbol).Debug("Нет тикера, вотчдоги пропущены.")
		return nil
	}
	if profit, ok := position.ProfitAt(ticker.Last); ok {
		position = position.WithProfit(profit)
	} else if profit, ok := position.ProfitAt(ticker.Mid()); ok {
		position = position.WithProfit(profit)
	}

	var errs []error
	for _, spec := range specs {
		if err := w.runWatchdog(ctx, ex, position, ticker, spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", spec.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Engine) runWatchdog(ctx context.Context, ex exchange.Exchange, position models.Position, ticker models.Ticker, spec config.WatchdogSpec) error {
	orders := ex.OrdersForSymbol(position.Symbol)
	var actions []planner.Action
	switch spec.Type {
	case config.WatchdogStopLoss:
		actions = planner.StopLoss(position, ticker, planner.StopLossConfig{Percent: spec.Percent}, orders)
	case config.WatchdogRiskReward:
		actions = planner.RiskReward(position, planner.RiskRewardConfig{
			TargetPercent: spec.TargetPercent,
			StopPercent:   spec.StopPercent,
		}, orders)
	case config.WatchdogTrailingStop:
		actions = planner.TrailingStop(position, ticker, planner.TrailingStopConfig{
			TargetPercent: spec.TargetPercent,
			StopPercent:   spec.StopPercent,
		}, orders)
	case config.WatchdogStopLossWatch:
		w.watchLoss(ex, position, spec.MaxLoss)
		return nil
	default:
		return fmt.Errorf("неизвестный тип вотчдога %q", spec.Type)
	}

	var errs []error
	for _, action := range actions {
		if _, err := w.exec.Execute(ctx, ex, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watchLoss places no order itself: a breach becomes a market close intent,
// and only when nothing else is pending for the pair.
func (w *Engine) watchLoss(ex exchange.Exchange, position models.Position, maxLoss float64) {
	if maxLoss <= 0 || position.Profit >= -maxLoss {
		return
	}
	entry := w.pairEntry(ex, position.Symbol).WithFields(logrus.Fields{
		"profit":   position.Profit,
		"max_loss": maxLoss,
	})
	if !w.intents.IsNeutral(ex.Name(), position.Symbol) {
		entry.Debug("Убыток превышен, но по паре уже есть намерение.")
		return
	}
	if _, err := w.intents.SetIntent(ex.Name(), position.Symbol, models.IntentClose, nil, models.IntentOptions{Market: true}); err != nil {
		entry.WithError(err).Error("Не удалось записать намерение закрытия.")
		return
	}
	entry.Warn("Убыток превысил порог, позиция будет закрыта.")
}

// OnPositionClosed cancels the protective orders left on a closed pair and
// reports how many were canceled.
func (w *Engine) OnPositionClosed(ctx context.Context, ex exchange.Exchange, symbol string) int {
	entry := w.pairEntry(ex, symbol)
	canceled := 0
	for _, order := range ex.OrdersForSymbol(symbol) {
		if !order.IsProtective() {
			continue
		}
		if _, err := w.exec.Execute(ctx, ex, planner.Cancel(order)); err != nil {
			entry.WithError(err).WithField("order_id", order.ID).Warn("Не удалось снять защитный ордер.")
			continue
		}
		canceled++
	}
	if canceled > 0 {
		entry.WithField("canceled", canceled).Info("Позиция закрыта, защитные ордера сняты.")
	}
	return canceled
}

func (w *Engine) logEntry() *logrus.Entry {
	return w.log.WithComponent("watchdog")
}

func (w *Engine) pairEntry(ex exchange.Exchange, symbol string) *logrus.Entry {
	return w.log.WithExchange("watchdog", ex.Name()).WithField("symbol", symbol)
}
