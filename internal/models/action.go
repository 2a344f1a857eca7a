package models

import "time"

// ActionRecord is one order verb sent to a venue, kept for audit.
type ActionRecord struct {
	Time     time.Time `json:"time"`
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Verb     string    `json:"verb"`
	IntentID string    `json:"intent_id,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	Side     OrderSide `json:"side,omitempty"`
	Type     OrderType `json:"type,omitempty"`
	Price    float64   `json:"price"`
	Amount   float64   `json:"amount"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
}
