package bybit

import (
	"context"

	"intentbot/internal/exchange"
	"intentbot/internal/models"
)

// consume applies stream events to the venue state and forwards the ones the
// watchdog reacts to.
func (v *Venue) consume(ctx context.Context, events <-chan exchange.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			v.apply(event)
		}
	}
}

func (v *Venue) apply(event exchange.Event) {
	event.Exchange = v.cfg.Name
	switch event.Type {
	case exchange.EventTypeOrder:
		if event.Order == nil {
			return
		}
		order := *event.Order
		v.remember(event.ClientID, &order, nil)
		v.ledger.Upsert(order)
		event.Order = &order
		v.forward(event)
	case exchange.EventTypePosition:
		if event.Position == nil {
			return
		}
		v.mu.Lock()
		v.positions[event.Position.Symbol] = *event.Position
		v.mu.Unlock()
		v.forward(event)
	case exchange.EventTypePositionClosed:
		v.mu.Lock()
		_, had := v.positions[event.Symbol]
		delete(v.positions, event.Symbol)
		v.mu.Unlock()
		v.settleTrailing(event.Symbol, models.OrderStatusDone)
		if had {
			v.forward(event)
		}
	case exchange.EventTypeTicker:
		if event.Ticker != nil {
			v.tickers.Set(v.cfg.Name, *event.Ticker)
		}
	case exchange.EventTypeWallet:
		if event.Balance != nil && event.Balance.Coin == v.rest.SettleCoin() {
			v.setBalance(*event.Balance)
		}
	case exchange.EventTypeReconnect:
		v.RequestResync()
		v.forward(event)
	}
}

// forward never blocks the stream; a dropped event is covered by the next sweep.
func (v *Venue) forward(event exchange.Event) {
	select {
	case v.events <- event:
	default:
		v.logEntry().WithField("type", event.Type).Debug("Очередь событий заполнена, событие пропущено.")
	}
}
