package engine

import (
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine")
}

func (e *Engine) pairEntry(ps models.PairState) *logrus.Entry {
	return e.log.WithExchange("engine", ps.Exchange).WithFields(logrus.Fields{
		"symbol":    ps.Symbol,
		"intent_id": ps.ID,
		"intent":    ps.State,
	})
}
