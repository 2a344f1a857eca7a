package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExchangeOrder is an order as the venue reports it.
type ExchangeOrder struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Status    OrderStatus     `json:"status"`
	Price     float64         `json:"price"`
	Amount    float64         `json:"amount"`
	Retry     bool            `json:"retry"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Options   OrderOptions    `json:"options"`
}

type ExchangeOrderParams struct {
	ID        any
	Symbol    string
	Status    OrderStatus
	Price     float64
	Quantity  float64
	Filled    float64
	Retry     bool
	Side      OrderSide
	Type      OrderType
	CreatedAt time.Time
	UpdatedAt time.Time
	Raw       json.RawMessage
	Options   OrderOptions
}

// NewExchangeOrder derives the remaining amount as quantity minus filled and
// refuses to clamp a negative remainder.
func NewExchangeOrder(p ExchangeOrderParams) (ExchangeOrder, error) {
	remaining := p.Quantity - p.Filled
	if remaining < 0 {
		return ExchangeOrder{}, fmt.Errorf("%w: qty=%v filled=%v", ErrNegativeAmount, p.Quantity, p.Filled)
	}
	switch p.Status {
	case OrderStatusOpen, OrderStatusDone, OrderStatusCanceled, OrderStatusRejected:
	default:
		return ExchangeOrder{}, fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if p.Side != OrderSideBuy && p.Side != OrderSideSell {
		return ExchangeOrder{}, fmt.Errorf("%w: %q", ErrInvalidSide, p.Side)
	}
	orderType := p.Type
	if orderType == "" {
		orderType = OrderTypeUnknown
	}
	return ExchangeOrder{
		ID:        NormalizeOrderID(p.ID),
		Symbol:    p.Symbol,
		Status:    p.Status,
		Price:     p.Price,
		Amount:    remaining,
		Retry:     p.Retry,
		Side:      p.Side,
		Type:      orderType,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Raw:       p.Raw,
		Options:   p.Options,
	}, nil
}

// RejectedOrder is what a venue returns for a business rejection of a desired order.
func RejectedOrder(order Order, retry bool, reason string, at time.Time) ExchangeOrder {
	raw, _ := json.Marshal(map[string]string{"reason": reason})
	return ExchangeOrder{
		ID:        order.ID,
		Symbol:    order.Symbol,
		Status:    OrderStatusRejected,
		Price:     order.Price,
		Amount:    order.Amount,
		Retry:     retry,
		Side:      order.OrderSide(),
		Type:      order.Type,
		CreatedAt: at,
		UpdatedAt: at,
		Raw:       raw,
		Options:   order.Options,
	}
}

func (o ExchangeOrder) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

func (o ExchangeOrder) IsTerminal() bool {
	return o.Status.IsTerminal()
}

func (o ExchangeOrder) IsRejected() bool {
	return o.Status == OrderStatusRejected
}

func (o ExchangeOrder) IsDone() bool {
	return o.Status == OrderStatusDone
}

func (o ExchangeOrder) ShouldCancel() bool {
	return o.Status == OrderStatusCanceled || (o.Status == OrderStatusRejected && o.Retry)
}

func (o ExchangeOrder) IsProtective() bool {
	return o.Type.IsProtective() || o.Options.ReduceOnly
}

// Desired rebuilds the order we would have to submit to recreate this one.
func (o ExchangeOrder) Desired() Order {
	orderType := o.Type
	if orderType == OrderTypeStopLimit {
		orderType = OrderTypeStop
	}
	return Order{
		ID:      NewClientOrderID(),
		Symbol:  o.Symbol,
		Side:    o.Side.Side(),
		Price:   o.Price,
		Amount:  o.Amount,
		Type:    orderType,
		Options: o.Options,
	}
}
