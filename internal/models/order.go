package models

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Order is the desired order on our side. Values are replaced, never edited.
type Order struct {
	ID      string       `json:"id"`
	Symbol  string       `json:"symbol"`
	Side    Side         `json:"side"`
	Price   float64      `json:"price"`
	Amount  float64      `json:"amount"`
	Type    OrderType    `json:"type"`
	Options OrderOptions `json:"options"`
}

func NewOrder(symbol string, side Side, orderType OrderType, price, amount float64, options OrderOptions) (Order, error) {
	if side != SideLong && side != SideShort {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	switch orderType {
	case OrderTypeLimit, OrderTypeStop, OrderTypeMarket, OrderTypeTrailingStop:
	default:
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrderType, orderType)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if orderType != OrderTypeMarket && (price <= 0 || math.IsNaN(price)) {
		return Order{}, fmt.Errorf("нет цены для ордера %s: %v", orderType, price)
	}
	return Order{
		ID:      NewClientOrderID(),
		Symbol:  symbol,
		Side:    side,
		Price:   price,
		Amount:  amount,
		Type:    orderType,
		Options: options,
	}, nil
}

func NewPostOnlyLimitOrder(symbol string, side Side, price, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeLimit, price, amount, OrderOptions{PostOnly: true, AdjustPrice: true})
}

func NewMarketOrder(symbol string, side Side, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeMarket, 0, amount, OrderOptions{})
}

func NewCloseLimitOrder(symbol string, side Side, price, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeLimit, price, amount, OrderOptions{PostOnly: true, AdjustPrice: true, ReduceOnly: true, Close: true})
}

func NewCloseMarketOrder(symbol string, side Side, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeMarket, 0, amount, OrderOptions{ReduceOnly: true, Close: true})
}

func NewStopOrder(symbol string, side Side, price, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeStop, price, amount, OrderOptions{ReduceOnly: true, Close: true})
}

// NewTrailingStopOrder carries the trailing distance in Price.
func NewTrailingStopOrder(symbol string, side Side, distance, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeTrailingStop, distance, amount, OrderOptions{ReduceOnly: true, Close: true})
}

func NewTargetOrder(symbol string, side Side, price, amount float64) (Order, error) {
	return NewOrder(symbol, side, OrderTypeLimit, price, amount, OrderOptions{ReduceOnly: true, PostOnly: true})
}

func (o Order) OrderSide() OrderSide {
	return o.Side.OrderSide()
}

func (o Order) WithPrice(price float64) Order {
	o.Price = price
	return o
}

func (o Order) WithAmount(amount float64) Order {
	o.Amount = amount
	return o
}

func (o Order) WithID(id string) Order {
	o.ID = id
	return o
}

func NewClientOrderID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "ib-" + raw[:24]
}
