package engine

import (
	"context"
	"math"
	"strings"
	"time"
)

func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	attempts := e.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := e.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		wait := time.Duration(math.Min(float64(backoff), float64(backoff*30)))
		if isRateLimitError(lastErr) {
			wait = backoff * 4
		}
		e.logEntry().WithError(lastErr).Warn("Ошибка, повторяем запрос.")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return lastErr
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Too many visits!") || strings.Contains(msg, "429") || strings.Contains(msg, "10006")
}

func isOrderNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "110001") || strings.Contains(msg, "170213") || strings.Contains(msg, "Order does not exist")
}
