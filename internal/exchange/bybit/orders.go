package bybit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/exchange/bybit/rest"
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

func (v *Venue) Order(ctx context.Context, order models.Order) (models.ExchangeOrder, error) {
	symbol := v.quirks.RewriteSymbol(order.Symbol)
	order.Symbol = symbol
	now := v.now()

	rules, ok := v.rulesFor(symbol)
	if !ok {
		rejected := models.RejectedOrder(order, false, "нет правил инструмента", now)
		v.ledger.Upsert(rejected)
		return rejected, nil
	}
	if order.Type == models.OrderTypeTrailingStop {
		return v.placeTrailing(ctx, order, rules)
	}

	body := map[string]any{
		"symbol":      symbol,
		"side":        venueSide(order.OrderSide()),
		"qty":         rest.FormatQty(order.Amount, rules.LotSize),
		"orderLinkId": order.ID,
	}
	switch order.Type {
	case models.OrderTypeMarket:
		body["orderType"] = "Market"
	default:
		body["orderType"] = "Limit"
		body["price"] = rest.FormatPrice(order.Price, rules.TickSize)
		body["timeInForce"] = "GTC"
		if order.Options.PostOnly {
			body["timeInForce"] = "PostOnly"
		}
	}
	if order.Options.ReduceOnly {
		body["reduceOnly"] = true
	}
	v.quirks.InjectCreateFields(order, body)

	entry := v.logEntry().WithFields(logrus.Fields{
		"symbol":   symbol,
		"order_id": order.ID,
		"type":     order.Type,
		"side":     order.Side,
	})
	placed, err := v.rest.PlaceOrder(ctx, body)
	if err != nil {
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) {
			entry.WithError(err).Warn("Биржа отклонила ордер.")
			rejected := models.RejectedOrder(order, apiErr.Temporary(), apiErr.Msg, now)
			v.ledger.Upsert(rejected)
			return rejected, nil
		}
		return models.ExchangeOrder{}, err
	}

	created := models.ExchangeOrder{
		ID:        placed.OrderID,
		Symbol:    symbol,
		Status:    models.OrderStatusOpen,
		Price:     order.Price,
		Amount:    order.Amount,
		Side:      order.OrderSide(),
		Type:      order.Type,
		CreatedAt: now,
		UpdatedAt: now,
		Options:   order.Options,
	}
	v.remember(order.ID, &created, &order.Options)
	// The stream may have reported the order before the response arrived.
	if known, ok := v.ledger.Get(created.ID); ok {
		return known, nil
	}
	v.ledger.Upsert(created)
	entry.WithField("venue_order_id", created.ID).Info("Ордер выставлен.")
	return created, nil
}

// placeTrailing attaches a trailing stop to the position. The venue keeps it
// on the position rather than as an order, so it is tracked under the
// client id.
func (v *Venue) placeTrailing(ctx context.Context, order models.Order, rules exchange.InstrumentRules) (models.ExchangeOrder, error) {
	now := v.now()
	if _, ok := v.PositionForSymbol(order.Symbol); !ok {
		rejected := models.RejectedOrder(order, false, "нет позиции для трейлинг-стопа", now)
		v.ledger.Upsert(rejected)
		return rejected, nil
	}
	if err := v.rest.SetTradingStop(ctx, order.Symbol, rest.FormatPrice(order.Price, rules.TickSize)); err != nil {
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) {
			rejected := models.RejectedOrder(order, apiErr.Temporary(), apiErr.Msg, now)
			v.ledger.Upsert(rejected)
			return rejected, nil
		}
		return models.ExchangeOrder{}, err
	}

	placed := models.ExchangeOrder{
		ID:        order.ID,
		Symbol:    order.Symbol,
		Status:    models.OrderStatusOpen,
		Price:     order.Price,
		Amount:    order.Amount,
		Side:      order.OrderSide(),
		Type:      models.OrderTypeTrailingStop,
		CreatedAt: now,
		UpdatedAt: now,
		Options:   order.Options,
	}
	v.mu.Lock()
	previous, had := v.trailing[order.Symbol]
	v.trailing[order.Symbol] = placed
	v.mu.Unlock()
	if had {
		v.ledger.Upsert(finished(previous, models.OrderStatusCanceled, now))
	}
	v.ledger.Upsert(placed)
	v.logEntry().WithFields(logrus.Fields{
		"symbol":   order.Symbol,
		"distance": order.Price,
	}).Info("Трейлинг-стоп установлен.")
	return placed, nil
}

// CancelOrder returns nil for ids the venue never reported.
func (v *Venue) CancelOrder(ctx context.Context, id string) (*models.ExchangeOrder, error) {
	current, ok := v.FindOrderByID(id)
	if !ok {
		return nil, nil
	}
	if current.IsTerminal() {
		return &current, nil
	}
	if v.isTrailing(current) {
		return v.cancelTrailing(ctx, current)
	}

	if err := v.rest.CancelOrder(ctx, v.quirks.CancelArgsFor(current)); err != nil {
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			// Filled or gone already; the resync will tell which.
			v.RequestResync()
		}
		return nil, fmt.Errorf("Не удалось отменить ордер %s: %w", current.ID, err)
	}

	v.ledger.Upsert(finished(current, models.OrderStatusCanceled, v.now()))
	latest, _ := v.ledger.Get(current.ID)
	return &latest, nil
}

func (v *Venue) CancelAll(ctx context.Context, symbol string) ([]models.ExchangeOrder, error) {
	symbol = v.quirks.RewriteSymbol(symbol)
	list, err := v.rest.CancelAll(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("Не удалось отменить ордера %s: %w", symbol, err)
	}

	now := v.now()
	canceled := make([]models.ExchangeOrder, 0, len(list))
	for _, item := range list {
		current, ok := v.ledger.Get(item.OrderID)
		if !ok {
			continue
		}
		v.ledger.Upsert(finished(current, models.OrderStatusCanceled, now))
		latest, _ := v.ledger.Get(current.ID)
		canceled = append(canceled, latest)
	}

	v.mu.RLock()
	trailing, ok := v.trailing[symbol]
	v.mu.RUnlock()
	if ok {
		if order, err := v.cancelTrailing(ctx, trailing); err == nil {
			canceled = append(canceled, *order)
		} else {
			return canceled, err
		}
	}
	return canceled, nil
}

// UpdateOrder replaces the order; v5 amend cannot change every field the
// core patches, so a confirmed cancel and a fresh create are used instead.
func (v *Venue) UpdateOrder(ctx context.Context, id string, patch exchange.OrderPatch) (*models.ExchangeOrder, error) {
	current, ok := v.FindOrderByID(id)
	if !ok || !current.IsOpen() {
		return nil, nil
	}
	return exchange.ReplaceOrder(ctx, v, current, patch)
}

func (v *Venue) isTrailing(order models.ExchangeOrder) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.trailing[order.Symbol]
	return ok && t.ID == order.ID
}

func (v *Venue) cancelTrailing(ctx context.Context, order models.ExchangeOrder) (*models.ExchangeOrder, error) {
	if err := v.rest.SetTradingStop(ctx, order.Symbol, "0"); err != nil {
		return nil, fmt.Errorf("Не удалось снять трейлинг-стоп %s: %w", order.Symbol, err)
	}
	v.mu.Lock()
	delete(v.trailing, order.Symbol)
	v.mu.Unlock()

	v.ledger.Upsert(finished(order, models.OrderStatusCanceled, v.now()))
	latest, _ := v.ledger.Get(order.ID)
	return &latest, nil
}

func finished(order models.ExchangeOrder, status models.OrderStatus, at time.Time) models.ExchangeOrder {
	order.Status = status
	order.UpdatedAt = at
	return order
}

func venueSide(side models.OrderSide) string {
	if side == models.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}
