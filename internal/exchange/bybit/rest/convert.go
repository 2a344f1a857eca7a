package rest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intentbot/internal/models"
)

// ParseOrder maps a venue order onto the core model and returns the client
// id it was placed with.
func ParseOrder(item OrderItem, now time.Time) (models.ExchangeOrder, string, error) {
	side, err := parseSide(item.Side)
	if err != nil {
		return models.ExchangeOrder{}, "", err
	}
	status, retry := parseStatus(item.OrderStatus, item.RejectReason)
	qty, err := parseFloatOrZero(item.Qty)
	if err != nil {
		return models.ExchangeOrder{}, "", fmt.Errorf("Некорректный qty %q: %w", item.Qty, err)
	}
	filled, err := parseFloatOrZero(item.CumExecQty)
	if err != nil {
		return models.ExchangeOrder{}, "", fmt.Errorf("Некорректный cumExecQty %q: %w", item.CumExecQty, err)
	}
	orderType := parseType(item.OrderType, item.StopOrderType)
	price, _ := parseFloatOrZero(item.Price)
	if orderType == models.OrderTypeStop || price == 0 {
		if trigger, _ := parseFloatOrZero(item.TriggerPrice); trigger > 0 {
			price = trigger
		}
	}

	createdAt := parseMillis(item.CreatedTime)
	updatedAt := parseMillis(item.UpdatedTime)
	if updatedAt.IsZero() {
		updatedAt = now
	}
	raw, _ := json.Marshal(item)

	order, err := models.NewExchangeOrder(models.ExchangeOrderParams{
		ID:        item.OrderID,
		Symbol:    item.Symbol,
		Status:    status,
		Price:     price,
		Quantity:  qty,
		Filled:    filled,
		Retry:     retry,
		Side:      side,
		Type:      orderType,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Raw:       raw,
		Options: models.OrderOptions{
			PostOnly:   item.TimeInForce == "PostOnly",
			ReduceOnly: item.ReduceOnly,
			Close:      item.CloseOnTrig,
		},
	})
	if err != nil {
		return models.ExchangeOrder{}, "", err
	}
	return order, item.OrderLinkID, nil
}

func parseSide(side string) (models.OrderSide, error) {
	switch side {
	case "Buy":
		return models.OrderSideBuy, nil
	case "Sell":
		return models.OrderSideSell, nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrInvalidSide, side)
}

// parseStatus marks post-only cancellations as retryable: the book moved and
// the same order may rest at a fresh price.
func parseStatus(status, reason string) (models.OrderStatus, bool) {
	switch status {
	case "Filled":
		return models.OrderStatusDone, false
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return models.OrderStatusCanceled, false
	case "Rejected":
		return models.OrderStatusRejected, strings.Contains(reason, "PostOnly")
	}
	return models.OrderStatusOpen, false
}

func parseType(orderType, stopOrderType string) models.OrderType {
	switch stopOrderType {
	case "TrailingStop":
		return models.OrderTypeTrailingStop
	case "Stop", "StopLoss", "PartialStopLoss", "TakeProfit", "PartialTakeProfit", "tpslOrder":
		if orderType == "Limit" {
			return models.OrderTypeStopLimit
		}
		return models.OrderTypeStop
	}
	switch orderType {
	case "Limit":
		return models.OrderTypeLimit
	case "Market":
		return models.OrderTypeMarket
	}
	return models.OrderTypeUnknown
}

// ParsePosition reports false for a flat position.
func ParsePosition(item PositionItem) (models.Position, bool, error) {
	size, err := parseFloatOrZero(item.Size)
	if err != nil {
		return models.Position{}, false, fmt.Errorf("Некорректный size %q: %w", item.Size, err)
	}
	if size == 0 || item.Side == "" || item.Side == "None" {
		return models.Position{}, false, nil
	}
	entry, _ := parseFloatOrZero(item.AvgPrice)
	if entry == 0 {
		entry, _ = parseFloatOrZero(item.EntryPrice)
	}

	side := models.SideLong
	if item.Side == "Sell" {
		side = models.SideShort
		size = -size
	}
	position, err := models.NewPosition(item.Symbol, side, size, entry, parseMillis(item.CreatedTime), parseMillis(item.UpdatedTime))
	if err != nil {
		return models.Position{}, false, err
	}
	return position, true, nil
}

// MergeTicker applies a stream delta to the previous ticker; empty fields
// keep their old values.
func MergeTicker(prev models.Ticker, item TickerItem, at time.Time) models.Ticker {
	next := prev
	next.Symbol = item.Symbol
	if v, err := parseFloatOrZero(item.Bid1Price); err == nil && v > 0 {
		next.Bid = v
	}
	if v, err := parseFloatOrZero(item.Ask1Price); err == nil && v > 0 {
		next.Ask = v
	}
	if v, err := parseFloatOrZero(item.LastPrice); err == nil && v > 0 {
		next.Last = v
	}
	next.Time = at
	return next
}
