package models

import (
	"fmt"
	"math"
	"time"
)

type Position struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Amount    float64   `json:"amount"`
	Profit    float64   `json:"profit"`
	Entry     float64   `json:"entry"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewPosition(symbol string, side Side, amount, entry float64, createdAt, updatedAt time.Time) (Position, error) {
	switch side {
	case SideLong:
		if amount < 0 {
			return Position{}, fmt.Errorf("%w: long %v", ErrPositionSideMismatch, amount)
		}
	case SideShort:
		if amount > 0 {
			return Position{}, fmt.Errorf("%w: short %v", ErrPositionSideMismatch, amount)
		}
	default:
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	return Position{
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Entry:     entry,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (p Position) IsLong() bool {
	return p.Side == SideLong
}

func (p Position) IsShort() bool {
	return p.Side == SideShort
}

func (p Position) AbsAmount() float64 {
	return math.Abs(p.Amount)
}

// ProfitAt returns the unrealized profit in percent for the given price.
func (p Position) ProfitAt(price float64) (float64, bool) {
	if p.Entry <= 0 || price <= 0 {
		return 0, false
	}
	profit := (price/p.Entry - 1) * 100
	if p.IsShort() {
		profit = -profit
	}
	return profit, true
}

func (p Position) WithProfit(profit float64) Position {
	p.Profit = profit
	return p
}
