package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"intentbot/internal/exchange"
	"intentbot/internal/models"
	"intentbot/internal/planner"

	"github.com/sirupsen/logrus"
)

// submit stores the desired order on the intent before sending it, so a
// create that times out is found again by its client id on the next tick.
// Creates are sent once.
func (e *Engine) submit(ctx context.Context, ex exchange.Exchange, ps models.PairState, order models.Order) error {
	ps.Order = &order
	ps.ExchangeOrder = nil
	e.intents.Update(ps)

	e.pairEntry(ps).WithFields(logrus.Fields{
		"order_id": order.ID,
		"side":     order.Side,
		"type":     order.Type,
		"price":    order.Price,
		"amount":   order.Amount,
	}).Info("Выставление ордера.")

	result, err := ex.Order(ctx, order)
	if err != nil {
		e.record(ctx, ex, ps.ID, "create", desiredView(order), err)
		return fmt.Errorf("Не удалось выставить ордер %s: %w", order.ID, err)
	}
	e.record(ctx, ex, ps.ID, "create", result, nil)
	return e.interpret(ctx, ex, ps, result)
}

func (e *Engine) replace(ctx context.Context, ex exchange.Exchange, ps models.PairState, tracked models.ExchangeOrder, patch exchange.OrderPatch) (*models.ExchangeOrder, error) {
	e.pairEntry(ps).WithFields(logrus.Fields{
		"order_id": tracked.ID,
		"price":    tracked.Price,
	}).Info("Цена ушла, переставляем ордер.")

	replaced, err := ex.UpdateOrder(ctx, tracked.ID, patch)
	view := tracked
	if replaced != nil {
		view = *replaced
	}
	e.record(ctx, ex, ps.ID, "update", view, err)
	if errors.Is(err, exchange.ErrCancelNotConfirmed) {
		e.pairEntry(ps).WithField("order_id", tracked.ID).Warn("Отмена не подтверждена, новый ордер не выставлен.")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("Не удалось переставить ордер %s: %w", tracked.ID, err)
	}
	return replaced, nil
}

// cancelStrays leaves at most one entry order per pair: the tracked one.
// Protective orders belong to the watchdog and are left alone.
func (e *Engine) cancelStrays(ctx context.Context, ex exchange.Exchange, ps models.PairState, trackedID string) error {
	open := ex.OrdersForSymbol(ps.Symbol)
	if len(open) <= 1 {
		return nil
	}
	ids := make([]string, 0, len(open)-1)
	for _, o := range open {
		if o.ID == trackedID || o.IsProtective() {
			continue
		}
		ids = append(ids, o.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	e.pairEntry(ps).WithFields(logrus.Fields{
		"tracked": trackedID,
		"strays":  len(ids),
	}).Warn("Найдены лишние ордера по паре, снимаем.")
	return e.cancelOrders(ctx, ex, ps, ids)
}

func (e *Engine) cancelOrders(ctx context.Context, ex exchange.Exchange, ps models.PairState, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	workers := e.cfg.CancelWorkers
	if workers > len(ids) {
		workers = len(ids)
	}
	jobs := make(chan string, len(ids))
	errCh := make(chan error, len(ids))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for id := range jobs {
			if ctx.Err() != nil {
				return
			}
			var canceled *models.ExchangeOrder
			err := e.withRetry(ctx, func() error {
				var err error
				canceled, err = ex.CancelOrder(ctx, id)
				return err
			})
			view := models.ExchangeOrder{ID: id, Symbol: ps.Symbol}
			if canceled != nil {
				view = *canceled
			}
			e.record(ctx, ex, ps.ID, "cancel", view, err)
			if err != nil && !isOrderNotExistError(err) {
				errCh <- fmt.Errorf("Не удалось снять ордер %s: %w", id, err)
			}
		}
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Execute sends one planned protective order change to the venue. Prices and
// amounts are rounded to the instrument first; a create that rounds to zero
// is skipped and reported as (nil, nil).
func (e *Engine) Execute(ctx context.Context, ex exchange.Exchange, action planner.Action) (*models.ExchangeOrder, error) {
	entry := e.log.WithExchange("engine", ex.Name()).WithFields(logrus.Fields{
		"symbol": action.Symbol,
		"action": action.Kind,
		"role":   action.Role,
	})

	switch action.Kind {
	case planner.ActionCreate:
		order := action.Order.
			WithPrice(ex.CalculatePrice(action.Order.Price, action.Symbol)).
			WithAmount(ex.CalculateAmount(action.Order.Amount, action.Symbol))
		if order.Amount <= 0 || order.Price <= 0 {
			entry.WithField("amount", order.Amount).Warn("Объём защитного ордера после округления нулевой, пропуск.")
			return nil, nil
		}
		entry.WithFields(logrus.Fields{
			"order_id": order.ID,
			"price":    order.Price,
			"amount":   order.Amount,
		}).Info("Выставление защитного ордера.")
		result, err := ex.Order(ctx, order)
		if err != nil {
			e.record(ctx, ex, "", "create", desiredView(order), err)
			return nil, fmt.Errorf("Не удалось выставить защитный ордер: %w", err)
		}
		e.record(ctx, ex, "", "create", result, nil)
		return &result, nil

	case planner.ActionUpdate:
		amount := ex.CalculateAmount(action.Amount, action.Symbol)
		if amount <= 0 {
			entry.Warn("Новый объём защитного ордера нулевой, пропуск.")
			return nil, nil
		}
		entry.WithFields(logrus.Fields{
			"order_id": action.ID,
			"amount":   amount,
		}).Info("Обновление объёма защитного ордера.")
		result, err := ex.UpdateOrder(ctx, action.ID, exchange.PatchAmount(amount))
		view := models.ExchangeOrder{ID: action.ID, Symbol: action.Symbol, Amount: amount}
		if result != nil {
			view = *result
		}
		e.record(ctx, ex, "", "update", view, err)
		if err != nil {
			return nil, fmt.Errorf("Не удалось обновить защитный ордер %s: %w", action.ID, err)
		}
		return result, nil

	case planner.ActionCancel:
		var result *models.ExchangeOrder
		err := e.withRetry(ctx, func() error {
			var err error
			result, err = ex.CancelOrder(ctx, action.ID)
			return err
		})
		view := models.ExchangeOrder{ID: action.ID, Symbol: action.Symbol}
		if result != nil {
			view = *result
		}
		e.record(ctx, ex, "", "cancel", view, err)
		if err != nil && !isOrderNotExistError(err) {
			return nil, fmt.Errorf("Не удалось снять ордер %s: %w", action.ID, err)
		}
		entry.WithField("order_id", action.ID).Info("Защитный ордер снят.")
		return result, nil
	}
	return nil, fmt.Errorf("Неизвестное действие %q", action.Kind)
}

func (e *Engine) record(ctx context.Context, ex exchange.Exchange, intentID, verb string, order models.ExchangeOrder, err error) {
	if e.journal == nil {
		return
	}
	rec := models.ActionRecord{
		Time:     e.now().UTC(),
		Exchange: ex.Name(),
		Symbol:   order.Symbol,
		Verb:     verb,
		IntentID: intentID,
		OrderID:  order.ID,
		Side:     order.Side,
		Type:     order.Type,
		Price:    order.Price,
		Amount:   order.Amount,
		Status:   string(order.Status),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jErr := e.journal.RecordAction(context.WithoutCancel(ctx), rec); jErr != nil {
		e.logEntry().WithError(jErr).Warn("Не удалось записать действие в журнал.")
	}
}

func desiredView(order models.Order) models.ExchangeOrder {
	return models.ExchangeOrder{
		ID:      order.ID,
		Symbol:  order.Symbol,
		Price:   order.Price,
		Amount:  order.Amount,
		Side:    order.OrderSide(),
		Type:    order.Type,
		Options: order.Options,
	}
}
