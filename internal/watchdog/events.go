package watchdog

import (
	"context"

	"intentbot/internal/exchange"
)

// HandleEvents reacts to venue pushes between sweeps until ctx is done or
// the channel closes.
func (w *Engine) HandleEvents(ctx context.Context, ex exchange.Exchange, events <-chan exchange.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				w.log.WithExchange("watchdog", ex.Name()).Warn("Канал событий биржи закрыт.")
				return
			}
			switch event.Type {
			case exchange.EventTypePositionClosed:
				w.OnPositionClosed(ctx, ex, event.Symbol)
			case exchange.EventTypePosition:
				if event.Position == nil {
					continue
				}
				if err := w.CheckPosition(ctx, ex, *event.Position); err != nil {
					w.pairEntry(ex, event.Position.Symbol).WithError(err).Warn("Вотчдог по событию позиции завершился с ошибкой.")
				}
			case exchange.EventTypeReconnect:
				w.log.WithExchange("watchdog", ex.Name()).Info("Поток биржи переподключён, внеочередная проверка позиций.")
				w.sweepVenue(ctx, ex)
			}
		}
	}
}
