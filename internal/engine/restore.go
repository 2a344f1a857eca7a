package engine

import (
	"context"
	"fmt"
	"time"

	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

// IntentLoader returns intents saved before a restart.
type IntentLoader interface {
	LoadIntents(ctx context.Context) ([]models.PairState, error)
}

// Restore puts saved intents back into the store. Intents for venues that
// are no longer configured are dropped; a tracked order the venue does not
// know any more is forgotten so the next tick re-evaluates the pair.
func (e *Engine) Restore(ctx context.Context, loader IntentLoader) (int, error) {
	states, err := loader.LoadIntents(ctx)
	if err != nil {
		return 0, fmt.Errorf("Не удалось загрузить намерения: %w", err)
	}

	kept := make([]models.PairState, 0, len(states))
	for _, ps := range states {
		entry := e.pairEntry(ps)
		ex, ok := e.venues.Get(ps.Exchange)
		if !ok {
			entry.Warn("Намерение для неподключённой биржи пропущено.")
			continue
		}
		if ps.ExchangeOrder != nil {
			if current, found := ex.FindOrderByID(ps.ExchangeOrder.ID); found {
				ps.ExchangeOrder = &current
			} else {
				entry.WithField("order_id", ps.ExchangeOrder.ID).Info("Отслеживаемый ордер не найден на бирже, сброшен.")
				ps.ExchangeOrder = nil
			}
		}
		entry.WithFields(logrus.Fields{
			"retries": ps.Retries,
			"tracked": ps.ExchangeOrder != nil,
			"age":     ps.Age(e.now()).Round(time.Second),
		}).Debug("Намерение восстановлено.")
		kept = append(kept, ps)
	}

	restored := e.intents.Restore(kept)
	e.logEntry().WithField("count", restored).Info("Намерения восстановлены после перезапуска.")
	return restored, nil
}
