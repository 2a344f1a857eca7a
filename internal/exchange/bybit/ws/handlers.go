package ws

import (
	"encoding/json"
	"strconv"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/exchange/bybit/rest"
)

func (w *Client) handleOrder(msg Message) {
	var data []rest.OrderItem
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать order.")
		return
	}

	now := time.Now()
	for _, item := range data {
		entry := w.logEntry().WithFields(map[string]interface{}{
			"symbol":        item.Symbol,
			"order_id":      item.OrderID,
			"order_link_id": item.OrderLinkID,
			"status":        item.OrderStatus,
		})
		order, _, err := rest.ParseOrder(item, now)
		if err != nil {
			entry.WithError(err).Warn("Ордер из потока пропущен.")
			continue
		}
		entry.Debug("order")
		w.emit(exchange.Event{Type: exchange.EventTypeOrder, Order: &order, Symbol: order.Symbol, ClientID: item.OrderLinkID})
	}
}

func (w *Client) handlePosition(msg Message) {
	var data []rest.PositionItem
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать position.")
		return
	}

	for _, item := range data {
		position, open, err := rest.ParsePosition(item)
		if err != nil {
			w.logEntry().WithError(err).WithField("symbol", item.Symbol).Warn("Позиция из потока пропущена.")
			continue
		}
		if !open {
			w.emit(exchange.Event{Type: exchange.EventTypePositionClosed, Symbol: item.Symbol})
			continue
		}
		w.emit(exchange.Event{Type: exchange.EventTypePosition, Position: &position})
	}
}

func (w *Client) handleWallet(msg Message) {
	var data []struct {
		Coin []struct {
			Coin                string `json:"coin"`
			WalletBalance       string `json:"walletBalance"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
		} `json:"coin"`
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать wallet.")
		return
	}

	for _, account := range data {
		for _, item := range account.Coin {
			wallet, _ := strconv.ParseFloat(item.WalletBalance, 64)
			available, err := strconv.ParseFloat(item.AvailableToWithdraw, 64)
			if err != nil || available == 0 {
				available = wallet
			}
			w.emit(exchange.Event{
				Type:    exchange.EventTypeWallet,
				Balance: &exchange.Balance{Coin: item.Coin, Wallet: wallet, Available: available},
			})
		}
	}
}

// handleTicker keeps the last full ticker per symbol: deltas carry only the
// fields that changed.
func (w *Client) handleTicker(msg Message) {
	var item rest.TickerItem
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать ticker.")
		return
	}
	if item.Symbol == "" {
		return
	}

	at := time.Now()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS)
	}
	prev := w.tickers[item.Symbol]
	if msg.Type == "snapshot" {
		prev.Bid, prev.Ask, prev.Last = 0, 0, 0
	}
	ticker := rest.MergeTicker(prev, item, at)
	w.tickers[item.Symbol] = ticker
	w.emit(exchange.Event{Type: exchange.EventTypeTicker, Ticker: &ticker})
}
