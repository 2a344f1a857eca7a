package engine

import (
	"context"
	"errors"
	"time"

	"intentbot/internal/calc"
	"intentbot/internal/exchange"
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

var errNoMarketData = errors.New("нет рыночных данных")

func (e *Engine) step(ctx context.Context, ps models.PairState) error {
	entry := e.pairEntry(ps)
	ex, ok := e.venues.Get(ps.Exchange)
	if !ok {
		entry.Warn("Биржа не подключена, намерение удалено.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	}

	if ps.Retries > e.cfg.MaxRetries || ps.Age(e.now()) > e.cfg.MaxIntentAge {
		entry.WithFields(logrus.Fields{
			"retries": ps.Retries,
			"age":     ps.Age(e.now()).Round(time.Second),
		}).Warn("Намерение превысило лимиты, принудительная отмена.")
		return e.cancelIntent(ctx, ex, ps)
	}

	var err error
	switch ps.State {
	case models.IntentCancel:
		return e.cancelIntent(ctx, ex, ps)
	case models.IntentLong, models.IntentShort:
		err = e.open(ctx, ex, ps)
	case models.IntentClose:
		err = e.close(ctx, ex, ps)
	default:
		entry.WithField("state", ps.State).Error("Неизвестное состояние намерения, удалено.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	}
	if errors.Is(err, errNoMarketData) {
		entry.Warn("Нет тикера для расчёта ордера, пропуск тика.")
		return nil
	}
	return err
}

func (e *Engine) cancelIntent(ctx context.Context, ex exchange.Exchange, ps models.PairState) error {
	var canceled []models.ExchangeOrder
	err := e.withRetry(ctx, func() error {
		var err error
		canceled, err = ex.CancelAll(ctx, ps.Symbol)
		return err
	})
	e.record(ctx, ex, ps.ID, "cancel_all", models.ExchangeOrder{Symbol: ps.Symbol}, err)
	if err != nil {
		return err
	}
	e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
	e.pairEntry(ps).WithField("canceled", len(canceled)).Info("Намерение отменено, ордера пары сняты.")
	return nil
}

func (e *Engine) open(ctx context.Context, ex exchange.Exchange, ps models.PairState) error {
	side, _ := ps.State.Side()
	position, hasPosition := ex.PositionForSymbol(ps.Symbol)
	if hasPosition && position.Side == side && position.Amount != 0 {
		e.pairEntry(ps).WithField("amount", position.Amount).Info("Позиция уже открыта, намерение выполнено.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	}

	if tracked, ok := e.trackedOrder(ex, ps, side.OrderSide()); ok {
		return e.follow(ctx, ex, ps, tracked)
	}

	if ps.Capital == nil {
		e.pairEntry(ps).Error("У намерения нет объёма капитала, удалено.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	}
	amount, ok := e.sizer.SizeFor(ex, ps.Symbol, *ps.Capital)
	if !ok {
		return nil
	}
	if hasPosition && position.Side != side {
		amount = ex.CalculateAmount(amount+position.AbsAmount(), ps.Symbol)
	}

	order, err := e.buildOrder(ex, ps, side, amount, false)
	if err != nil {
		return err
	}
	return e.submit(ctx, ex, ps, order)
}

func (e *Engine) close(ctx context.Context, ex exchange.Exchange, ps models.PairState) error {
	position, ok := ex.PositionForSymbol(ps.Symbol)
	if !ok || position.Amount == 0 {
		open := ex.OrdersForSymbol(ps.Symbol)
		if len(open) > 0 {
			ids := make([]string, 0, len(open))
			for _, o := range open {
				ids = append(ids, o.ID)
			}
			if err := e.cancelOrders(ctx, ex, ps, ids); err != nil {
				return err
			}
		}
		e.pairEntry(ps).Info("Позиции нет, закрывать нечего.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	}

	closing := position.Side.Opposite()
	if tracked, ok := e.trackedOrder(ex, ps, closing.OrderSide()); ok {
		return e.follow(ctx, ex, ps, tracked)
	}

	order, err := e.buildOrder(ex, ps, closing, position.AbsAmount(), true)
	if err != nil {
		return err
	}
	return e.submit(ctx, ex, ps, order)
}

// trackedOrder finds the order this intent already owns: the stored one if
// the venue still knows it, else an open order in the same direction priced
// close enough to the market to adopt.
func (e *Engine) trackedOrder(ex exchange.Exchange, ps models.PairState, side models.OrderSide) (models.ExchangeOrder, bool) {
	if ps.ExchangeOrder != nil {
		if current, ok := ex.FindOrderByID(ps.ExchangeOrder.ID); ok {
			return current, true
		}
	}
	if ps.Order != nil {
		if current, ok := ex.FindOrderByID(ps.Order.ID); ok {
			return current, true
		}
	}

	ticker, ok := e.tickers.Ticker(ex.Name(), ps.Symbol)
	if !ok {
		return models.ExchangeOrder{}, false
	}
	for _, o := range ex.OrdersForSymbol(ps.Symbol) {
		if o.Side != side || o.IsProtective() || o.Type == models.OrderTypeMarket || o.Price <= 0 {
			continue
		}
		ref := ticker.PriceFor(side)
		if ref <= 0 || calc.PercentDifference(o.Price, ref) > e.cfg.AdoptTolerance {
			continue
		}
		e.pairEntry(ps).WithFields(logrus.Fields{
			"order_id": o.ID,
			"price":    o.Price,
			"ticker":   ref,
		}).Info("Найден подходящий открытый ордер, берём его под контроль.")
		return o, true
	}
	return models.ExchangeOrder{}, false
}

// follow handles an order the intent already tracks: resolve it if terminal,
// otherwise chase the market when allowed and clean up strays.
func (e *Engine) follow(ctx context.Context, ex exchange.Exchange, ps models.PairState, tracked models.ExchangeOrder) error {
	if !tracked.IsOpen() {
		return e.interpret(ctx, ex, ps, tracked)
	}

	if tracked.Options.AdjustPrice && tracked.Type == models.OrderTypeLimit {
		if ticker, ok := e.tickers.Ticker(ex.Name(), ps.Symbol); ok {
			ref := ex.CalculatePrice(ticker.PriceFor(tracked.Side), ps.Symbol)
			if ref > 0 && calc.PercentDifferenceExceeds(tracked.Price, ref, e.cfg.RepriceTolerance) {
				replaced, err := e.replace(ctx, ex, ps, tracked, exchange.PatchPrice(ref))
				if err != nil {
					return err
				}
				if replaced == nil {
					return nil
				}
				ps.AdjustedPrice = true
				return e.interpret(ctx, ex, ps, *replaced)
			}
		}
	}
	return e.interpret(ctx, ex, ps, tracked)
}

// interpret applies the outcome of the tracked order to the intent.
func (e *Engine) interpret(ctx context.Context, ex exchange.Exchange, ps models.PairState, result models.ExchangeOrder) error {
	entry := e.pairEntry(ps).WithFields(logrus.Fields{
		"order_id": result.ID,
		"status":   result.Status,
	})
	switch {
	case result.IsRejected() && !result.Retry:
		entry.WithField("raw", string(result.Raw)).Warn("Биржа отклонила ордер, намерение удалено.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	case result.ShouldCancel():
		retries, _ := e.intents.IncrementRetries(ps.Exchange, ps.Symbol, ps.ID)
		ps.Retries = retries
		ps.Order = nil
		ps.ExchangeOrder = nil
		e.intents.Update(ps)
		entry.WithField("retries", retries).Info("Ордер не прошёл, повтор на следующем тике.")
		return nil
	case result.IsDone():
		entry.Info("Ордер исполнен, намерение выполнено.")
		e.intents.Delete(ps.Exchange, ps.Symbol, ps.ID)
		return nil
	}

	ps.ExchangeOrder = &result
	e.intents.Update(ps)
	return e.cancelStrays(ctx, ex, ps, result.ID)
}

func (e *Engine) buildOrder(ex exchange.Exchange, ps models.PairState, side models.Side, amount float64, closing bool) (models.Order, error) {
	amount = ex.CalculateAmount(amount, ps.Symbol)
	if ps.Options.Market {
		if closing {
			return models.NewCloseMarketOrder(ps.Symbol, side, amount)
		}
		return models.NewMarketOrder(ps.Symbol, side, amount)
	}

	ticker, ok := e.tickers.Ticker(ex.Name(), ps.Symbol)
	if !ok {
		return models.Order{}, errNoMarketData
	}
	price := ex.CalculatePrice(ticker.PriceFor(side.OrderSide()), ps.Symbol)
	if price <= 0 {
		return models.Order{}, errNoMarketData
	}
	if closing {
		return models.NewCloseLimitOrder(ps.Symbol, side, price, amount)
	}
	return models.NewPostOnlyLimitOrder(ps.Symbol, side, price, amount)
}
