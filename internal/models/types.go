package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Side string
type OrderSide string
type OrderType string
type OrderStatus string

const (
	SideLong  Side = "long"
	SideShort Side = "short"

	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"

	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeMarket       OrderType = "market"
	OrderTypeTrailingStop OrderType = "trailing_stop"
	OrderTypeUnknown      OrderType = "unknown"

	OrderStatusOpen     OrderStatus = "open"
	OrderStatusDone     OrderStatus = "done"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

var (
	ErrInvalidSide          = errors.New("некорректное направление")
	ErrInvalidOrderType     = errors.New("некорректный тип ордера")
	ErrInvalidAmount        = errors.New("некорректный объём")
	ErrNegativeAmount       = errors.New("отрицательный остаток ордера")
	ErrInvalidStatus        = errors.New("некорректный статус ордера")
	ErrPositionSideMismatch = errors.New("знак объёма позиции не совпадает с направлением")
	ErrInvalidIntentState   = errors.New("некорректное состояние намерения")
	ErrInvalidCapital       = errors.New("некорректный объём капитала")
)

func ParseSide(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, value)
	}
}

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSide maps a position direction onto the venue side that increases it.
func (s Side) OrderSide() OrderSide {
	if s == SideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

func (s OrderSide) Side() Side {
	if s == OrderSideBuy {
		return SideLong
	}
	return SideShort
}

func (t OrderType) IsProtective() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit || t == OrderTypeTrailingStop
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDone || s == OrderStatusCanceled || s == OrderStatusRejected
}

type OrderOptions struct {
	PostOnly    bool `json:"post_only,omitempty"`
	ReduceOnly  bool `json:"reduce_only,omitempty"`
	Close       bool `json:"close,omitempty"`
	AdjustPrice bool `json:"adjust_price,omitempty"`
}

type Ticker struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// PriceFor returns the passive side of the book for a maker order.
func (t Ticker) PriceFor(side OrderSide) float64 {
	if side == OrderSideBuy && t.Bid > 0 {
		return t.Bid
	}
	if side == OrderSideSell && t.Ask > 0 {
		return t.Ask
	}
	return t.Last
}

// NormalizeOrderID renders venue ids of any scalar type into one key so that
// 12345 and "12345" collide.
func NormalizeOrderID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
