package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IntentState string

const (
	IntentLong   IntentState = "long"
	IntentShort  IntentState = "short"
	IntentClose  IntentState = "close"
	IntentCancel IntentState = "cancel"
)

func ParseIntentState(value string) (IntentState, error) {
	switch IntentState(strings.ToLower(strings.TrimSpace(value))) {
	case IntentLong:
		return IntentLong, nil
	case IntentShort:
		return IntentShort, nil
	case IntentClose:
		return IntentClose, nil
	case IntentCancel:
		return IntentCancel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIntentState, value)
	}
}

func (s IntentState) Side() (Side, bool) {
	switch s {
	case IntentLong:
		return SideLong, true
	case IntentShort:
		return SideShort, true
	default:
		return "", false
	}
}

type CapitalKind string

const (
	CapitalBalancePercent CapitalKind = "balance_percent"
	CapitalCurrency       CapitalKind = "currency"
	CapitalAsset          CapitalKind = "asset"
)

type CapitalSpec struct {
	Kind  CapitalKind `json:"kind" mapstructure:"kind" yaml:"kind"`
	Value float64     `json:"value" mapstructure:"value" yaml:"value"`
}

func (c CapitalSpec) Validate() error {
	switch c.Kind {
	case CapitalBalancePercent:
		if c.Value <= 0 || c.Value > 100 {
			return fmt.Errorf("%w: %v%%", ErrInvalidCapital, c.Value)
		}
	case CapitalCurrency, CapitalAsset:
		if c.Value <= 0 || math.IsNaN(c.Value) {
			return fmt.Errorf("%w: %v", ErrInvalidCapital, c.Value)
		}
	default:
		return fmt.Errorf("%w: тип %q", ErrInvalidCapital, c.Kind)
	}
	return nil
}

type IntentOptions struct {
	Market bool `json:"market,omitempty"`
}

// PairState is the one live intent for an (exchange, symbol) pair.
type PairState struct {
	ID            string         `json:"id"`
	Exchange      string         `json:"exchange"`
	Symbol        string         `json:"symbol"`
	State         IntentState    `json:"state"`
	Capital       *CapitalSpec   `json:"capital,omitempty"`
	Options       IntentOptions  `json:"options"`
	AdjustedPrice bool           `json:"adjusted_price"`
	Time          time.Time      `json:"time"`
	Retries       int            `json:"retries"`
	Order         *Order         `json:"order,omitempty"`
	ExchangeOrder *ExchangeOrder `json:"exchange_order,omitempty"`
}

func NewPairState(exchange, symbol string, state IntentState, capital *CapitalSpec, options IntentOptions, now time.Time) (PairState, error) {
	if _, err := ParseIntentState(string(state)); err != nil {
		return PairState{}, err
	}
	if exchange == "" || symbol == "" {
		return PairState{}, fmt.Errorf("пустая биржа или пара: %q/%q", exchange, symbol)
	}
	if _, opens := state.Side(); opens {
		if capital == nil {
			return PairState{}, fmt.Errorf("%w: не задан для %s", ErrInvalidCapital, state)
		}
		if err := capital.Validate(); err != nil {
			return PairState{}, err
		}
	}
	return PairState{
		ID:       uuid.NewString(),
		Exchange: exchange,
		Symbol:   symbol,
		State:    state,
		Capital:  capital,
		Options:  options,
		Time:     now,
	}, nil
}

// Clone deep-copies the optional pointers so callers never share them with a store.
func (p PairState) Clone() PairState {
	if p.Capital != nil {
		c := *p.Capital
		p.Capital = &c
	}
	if p.Order != nil {
		o := *p.Order
		p.Order = &o
	}
	if p.ExchangeOrder != nil {
		eo := *p.ExchangeOrder
		p.ExchangeOrder = &eo
	}
	return p
}

func (p PairState) Age(now time.Time) time.Duration {
	return now.Sub(p.Time)
}
