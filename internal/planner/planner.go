package planner

import (
	"intentbot/internal/calc"
	"intentbot/internal/models"
)

// AmendThresholdPercent is the minimum size change worth re-issuing a
// protective order for.
const AmendThresholdPercent = 1.0

type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionCancel ActionKind = "cancel"
)

type Role string

const (
	RoleStop     Role = "stop"
	RoleTarget   Role = "target"
	RoleTrailing Role = "trailing_stop"
)

// Action is a planned protective order change. Create carries the full
// order, Update the id of the live order and its new amount, Cancel the id.
type Action struct {
	Kind   ActionKind
	Role   Role
	Symbol string
	Order  models.Order
	ID     string
	Amount float64
}

type StopLossConfig struct {
	Percent float64 `mapstructure:"percent" yaml:"percent"`
}

type RiskRewardConfig struct {
	TargetPercent float64 `mapstructure:"target_percent" yaml:"target_percent"`
	StopPercent   float64 `mapstructure:"stop_percent" yaml:"stop_percent"`
}

// TrailingStopConfig arms the trailing stop once profit reaches
// TargetPercent and trails StopPercent behind the price.
type TrailingStopConfig struct {
	TargetPercent float64 `mapstructure:"target_percent" yaml:"target_percent"`
	StopPercent   float64 `mapstructure:"stop_percent" yaml:"stop_percent"`
}

// StopPrice is entry moved against the position by percent.
func StopPrice(position models.Position, percent float64) float64 {
	if position.IsShort() {
		return calc.PriceOffset(position.Entry, percent)
	}
	return calc.PriceOffset(position.Entry, -percent)
}

// TargetPrice is entry moved in favour of the position by percent.
func TargetPrice(position models.Position, percent float64) float64 {
	if position.IsShort() {
		return calc.PriceOffset(position.Entry, -percent)
	}
	return calc.PriceOffset(position.Entry, percent)
}

func RiskRewardPrices(position models.Position, cfg RiskRewardConfig) (target, stop float64) {
	return TargetPrice(position, cfg.TargetPercent), StopPrice(position, cfg.StopPercent)
}

func StopLoss(position models.Position, ticker models.Ticker, cfg StopLossConfig, orders []models.ExchangeOrder) []Action {
	if cfg.Percent <= 0 || position.Entry <= 0 {
		return nil
	}
	if existing, ok := findStop(position, orders); ok {
		return amend(RoleStop, position, existing)
	}
	price := StopPrice(position, cfg.Percent)
	if triggersNow(position, ticker, price) {
		return nil
	}
	order, err := models.NewStopOrder(position.Symbol, position.Side.Opposite(), price, position.AbsAmount())
	if err != nil {
		return nil
	}
	return []Action{create(RoleStop, order)}
}

func RiskReward(position models.Position, cfg RiskRewardConfig, orders []models.ExchangeOrder) []Action {
	if position.Entry <= 0 {
		return nil
	}
	targetPrice, stopPrice := RiskRewardPrices(position, cfg)
	closing := position.Side.Opposite()
	var actions []Action

	if cfg.TargetPercent > 0 {
		if existing, ok := findTarget(position, orders); ok {
			actions = append(actions, amend(RoleTarget, position, existing)...)
		} else if order, err := models.NewTargetOrder(position.Symbol, closing, targetPrice, position.AbsAmount()); err == nil {
			actions = append(actions, create(RoleTarget, order))
		}
	}

	if cfg.StopPercent > 0 {
		if existing, ok := findStop(position, orders); ok {
			actions = append(actions, amend(RoleStop, position, existing)...)
		} else if order, err := models.NewStopOrder(position.Symbol, closing, stopPrice, position.AbsAmount()); err == nil {
			actions = append(actions, create(RoleStop, order))
		}
	}
	return actions
}

func TrailingStop(position models.Position, ticker models.Ticker, cfg TrailingStopConfig, orders []models.ExchangeOrder) []Action {
	if cfg.StopPercent <= 0 {
		return nil
	}
	if existing, ok := findTrailing(position, orders); ok {
		return amend(RoleTrailing, position, existing)
	}
	price := ticker.Last
	if price <= 0 {
		price = ticker.Mid()
	}
	profit, ok := position.ProfitAt(price)
	if !ok || profit < cfg.TargetPercent {
		return nil
	}
	distance := price * cfg.StopPercent / 100
	order, err := models.NewTrailingStopOrder(position.Symbol, position.Side.Opposite(), distance, position.AbsAmount())
	if err != nil {
		return nil
	}
	return []Action{create(RoleTrailing, order)}
}

func Cancel(order models.ExchangeOrder) Action {
	return Action{Kind: ActionCancel, Symbol: order.Symbol, ID: order.ID}
}

func create(role Role, order models.Order) Action {
	return Action{Kind: ActionCreate, Role: role, Symbol: order.Symbol, Order: order}
}

// amend emits an update only when the size moved by more than the threshold.
func amend(role Role, position models.Position, existing models.ExchangeOrder) []Action {
	if !calc.PercentDifferenceExceeds(position.Amount, existing.Amount, AmendThresholdPercent) {
		return nil
	}
	return []Action{{
		Kind:   ActionUpdate,
		Role:   role,
		Symbol: position.Symbol,
		ID:     existing.ID,
		Amount: position.AbsAmount(),
	}}
}

// A stop at or beyond the current price would fire on placement.
func triggersNow(position models.Position, ticker models.Ticker, stop float64) bool {
	if position.IsLong() {
		return ticker.Bid > 0 && stop >= ticker.Bid
	}
	return ticker.Ask > 0 && stop <= ticker.Ask
}

func closingSide(position models.Position) models.OrderSide {
	return position.Side.Opposite().OrderSide()
}

func findStop(position models.Position, orders []models.ExchangeOrder) (models.ExchangeOrder, bool) {
	return find(position, orders, func(o models.ExchangeOrder) bool {
		return o.Type == models.OrderTypeStop || o.Type == models.OrderTypeStopLimit
	})
}

func findTarget(position models.Position, orders []models.ExchangeOrder) (models.ExchangeOrder, bool) {
	return find(position, orders, func(o models.ExchangeOrder) bool {
		return o.Type == models.OrderTypeLimit && o.Options.ReduceOnly
	})
}

func findTrailing(position models.Position, orders []models.ExchangeOrder) (models.ExchangeOrder, bool) {
	return find(position, orders, func(o models.ExchangeOrder) bool {
		return o.Type == models.OrderTypeTrailingStop
	})
}

func find(position models.Position, orders []models.ExchangeOrder, match func(models.ExchangeOrder) bool) (models.ExchangeOrder, bool) {
	side := closingSide(position)
	for _, o := range orders {
		if o.Symbol == position.Symbol && o.IsOpen() && o.Side == side && match(o) {
			return o, true
		}
	}
	return models.ExchangeOrder{}, false
}
