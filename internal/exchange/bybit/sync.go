package bybit

import (
	"context"
	"errors"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/exchange/bybit/rest"
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

// RequestResync schedules a resync without waiting for it.
func (v *Venue) RequestResync() {
	select {
	case v.resyncCh <- struct{}{}:
	default:
	}
}

func (v *Venue) resyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(v.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-v.resyncCh:
		}
		if err := v.Resync(ctx); err != nil && ctx.Err() == nil {
			v.logEntry().WithError(err).Warn("Синхронизация с биржей не удалась.")
		}
	}
}

// Resync reloads orders, positions, balance and tickers over REST. Each part
// is attempted even when an earlier one fails.
func (v *Venue) Resync(ctx context.Context) error {
	return errors.Join(
		v.syncOrders(ctx),
		v.syncPositions(ctx),
		v.syncBalance(ctx),
		v.syncTickers(ctx),
	)
}

func (v *Venue) syncOrders(ctx context.Context) error {
	start := v.now()
	items, err := v.rest.GetOpenOrders(ctx, "")
	if err != nil {
		return err
	}

	snapshot := make(map[string]models.ExchangeOrder, len(items))
	for _, item := range items {
		order, clientID, err := rest.ParseOrder(item, start)
		if err != nil {
			v.logEntry().WithError(err).WithField("order_id", item.OrderID).Warn("Ордер из снимка пропущен.")
			continue
		}
		v.remember(clientID, &order, nil)
		snapshot[order.ID] = order
	}

	var vanished []models.ExchangeOrder
	for _, order := range v.ledger.All() {
		if reported, ok := snapshot[order.ID]; ok {
			if order.IsTerminal() && !reported.IsTerminal() {
				snapshot[order.ID] = order
			}
			continue
		}
		switch {
		case order.IsTerminal(), order.UpdatedAt.After(start), v.isTrailing(order):
			snapshot[order.ID] = order
		default:
			vanished = append(vanished, order)
		}
	}

	for _, order := range vanished {
		item, found, err := v.rest.GetOrder(ctx, order.ID)
		if err != nil || !found {
			snapshot[order.ID] = order
			continue
		}
		if latest, _, err := rest.ParseOrder(item, v.now()); err == nil {
			v.remember("", &latest, nil)
			snapshot[order.ID] = latest
		} else {
			snapshot[order.ID] = order
		}
	}

	merged := make([]models.ExchangeOrder, 0, len(snapshot))
	for _, order := range snapshot {
		merged = append(merged, order)
	}
	v.ledger.ReplaceAll(merged)
	v.pruneLinks()
	return nil
}

func (v *Venue) syncPositions(ctx context.Context) error {
	items, err := v.rest.GetPositions(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]models.Position, len(items))
	armed := make(map[string]bool, len(items))
	for _, item := range items {
		position, open, err := rest.ParsePosition(item)
		if err != nil {
			v.logEntry().WithError(err).WithField("symbol", item.Symbol).Warn("Позиция из снимка пропущена.")
			continue
		}
		if !open {
			continue
		}
		next[position.Symbol] = position
		armed[position.Symbol] = item.TrailingStop != "" && item.TrailingStop != "0"
	}

	v.mu.Lock()
	var closed []string
	for symbol := range v.positions {
		if _, ok := next[symbol]; !ok {
			closed = append(closed, symbol)
		}
	}
	v.positions = next
	v.mu.Unlock()

	for symbol := range v.trailingSymbols() {
		if _, open := next[symbol]; !open {
			v.settleTrailing(symbol, models.OrderStatusDone)
		} else if !armed[symbol] {
			v.settleTrailing(symbol, models.OrderStatusCanceled)
		}
	}
	for _, symbol := range closed {
		v.forward(exchange.Event{Type: exchange.EventTypePositionClosed, Exchange: v.cfg.Name, Symbol: symbol})
	}
	return nil
}

func (v *Venue) syncBalance(ctx context.Context) error {
	coin := v.rest.SettleCoin()
	if coin == "" {
		return nil
	}
	balances, err := v.rest.GetBalances(ctx, []string{coin})
	if err != nil {
		return err
	}
	if balance, ok := balances[coin]; ok {
		v.setBalance(balance)
	}
	return nil
}

func (v *Venue) syncTickers(ctx context.Context) error {
	var errs []error
	for _, symbol := range v.cfg.Symbols {
		items, err := v.rest.GetTickers(ctx, v.quirks.RewriteSymbol(symbol))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, item := range items {
			prev, _ := v.tickers.Ticker(v.cfg.Name, item.Symbol)
			v.tickers.Set(v.cfg.Name, rest.MergeTicker(prev, item, v.now()))
		}
	}
	return errors.Join(errs...)
}

func (v *Venue) setBalance(balance exchange.Balance) {
	v.mu.Lock()
	v.balance = balance
	v.hasBalance = true
	v.mu.Unlock()
	v.logEntry().WithFields(logrus.Fields{
		"coin":      balance.Coin,
		"available": balance.Available,
	}).Debug("Баланс обновлён.")
}

func (v *Venue) trailingSymbols() map[string]struct{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	symbols := make(map[string]struct{}, len(v.trailing))
	for symbol := range v.trailing {
		symbols[symbol] = struct{}{}
	}
	return symbols
}

func (v *Venue) settleTrailing(symbol string, status models.OrderStatus) {
	v.mu.Lock()
	order, ok := v.trailing[symbol]
	delete(v.trailing, symbol)
	v.mu.Unlock()
	if ok {
		v.ledger.Upsert(finished(order, status, v.now()))
	}
}

// pruneLinks forgets client ids whose order has left the ledger.
func (v *Venue) pruneLinks() {
	cutoff := v.now().Add(-v.linkRetention())
	v.mu.Lock()
	defer v.mu.Unlock()
	for clientID, l := range v.links {
		if l.at.After(cutoff) {
			continue
		}
		if _, ok := v.ledger.Get(l.venueID); !ok {
			delete(v.links, clientID)
			delete(v.options, l.venueID)
		}
	}
}

func (v *Venue) linkRetention() time.Duration {
	if v.cfg.LedgerRetention > 0 {
		return v.cfg.LedgerRetention
	}
	return 10 * time.Minute
}
