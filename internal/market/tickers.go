package market

import (
	"sync"
	"time"

	"intentbot/internal/models"
)

type TickerSource interface {
	Ticker(exchange, symbol string) (models.Ticker, bool)
}

type key struct {
	exchange string
	symbol   string
}

// Tickers keeps the latest ticker per venue and symbol. Entries older than
// maxAge are reported as missing.
type Tickers struct {
	mu      sync.RWMutex
	tickers map[key]models.Ticker
	maxAge  time.Duration
	now     func() time.Time
}

func NewTickers(maxAge time.Duration) *Tickers {
	return &Tickers{
		tickers: make(map[key]models.Ticker),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

func (t *Tickers) Set(exchange string, ticker models.Ticker) {
	if ticker.Time.IsZero() {
		ticker.Time = t.now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{exchange: exchange, symbol: ticker.Symbol}
	if prev, ok := t.tickers[k]; ok && ticker.Time.Before(prev.Time) {
		return
	}
	t.tickers[k] = ticker
}

func (t *Tickers) Ticker(exchange, symbol string) (models.Ticker, bool) {
	t.mu.RLock()
	ticker, ok := t.tickers[key{exchange: exchange, symbol: symbol}]
	t.mu.RUnlock()
	if !ok {
		return models.Ticker{}, false
	}
	if t.maxAge > 0 && t.now().Sub(ticker.Time) > t.maxAge {
		return models.Ticker{}, false
	}
	return ticker, true
}
