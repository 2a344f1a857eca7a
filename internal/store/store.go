// Package store keeps the order action journal and the live intents on disk.
package store

import (
	"context"

	"intentbot/internal/models"
)

// ActionJournal appends and lists order verbs sent to venues.
type ActionJournal interface {
	// RecordAction appends one order verb.
	RecordAction(ctx context.Context, record models.ActionRecord) error

	// ListActions returns journal entries oldest first.
	ListActions(ctx context.Context, filter ActionFilter) ([]models.ActionRecord, error)
}

// IntentStore persists the one live intent per pair.
type IntentStore interface {
	SaveIntent(ctx context.Context, state models.PairState) error
	DeleteIntent(ctx context.Context, exchange, symbol, id string) error
	LoadIntents(ctx context.Context) ([]models.PairState, error)
}

// ActionFilter narrows ListActions. Zero fields match everything; Limit keeps
// the most recent entries.
type ActionFilter struct {
	Exchange string
	Symbol   string
	IntentID string
	Limit    int
}
