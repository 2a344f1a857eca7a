package ledger

import (
	"sort"
	"sync"
	"time"

	"intentbot/internal/models"
)

const DefaultTerminalRetention = 10 * time.Minute

// Pruned terminal ids are remembered this many retention windows longer.
const tombstoneFactor = 6

// Ledger is the per-venue index of known exchange orders. Stored values are
// never handed out by reference.
type Ledger struct {
	mu        sync.RWMutex
	orders    map[string]models.ExchangeOrder
	seenAt    map[string]time.Time
	pruned    map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func New(retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = DefaultTerminalRetention
	}
	return &Ledger{
		orders:    make(map[string]models.ExchangeOrder),
		seenAt:    make(map[string]time.Time),
		pruned:    make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// Upsert stores the newest payload for an id. A locally terminal entry is
// never overwritten, so stale open updates cannot resurrect it, not even
// after the entry itself was pruned.
func (l *Ledger) Upsert(order models.ExchangeOrder) bool {
	id := models.NormalizeOrderID(order.ID)
	if id == "" {
		return false
	}
	order.ID = id

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if _, ok := l.pruned[id]; ok && !order.IsTerminal() {
		return false
	}
	if existing, ok := l.orders[id]; ok {
		if existing.IsTerminal() {
			return false
		}
		if !existing.UpdatedAt.IsZero() && !order.UpdatedAt.IsZero() && order.UpdatedAt.Before(existing.UpdatedAt) {
			return false
		}
	}
	l.orders[id] = order
	l.seenAt[id] = now
	return true
}

// ReplaceAll swaps in a full snapshot; anything absent from it is dropped.
func (l *Ledger) ReplaceAll(orders []models.ExchangeOrder) {
	next := make(map[string]models.ExchangeOrder, len(orders))
	seen := make(map[string]time.Time, len(orders))
	now := l.now()
	for _, order := range orders {
		id := models.NormalizeOrderID(order.ID)
		if id == "" {
			continue
		}
		order.ID = id
		next[id] = order
		seen[id] = now
	}

	l.mu.Lock()
	l.orders = next
	l.seenAt = seen
	l.mu.Unlock()
}

func (l *Ledger) Remove(id string) bool {
	id = models.NormalizeOrderID(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[id]; !ok {
		return false
	}
	delete(l.orders, id)
	delete(l.seenAt, id)
	delete(l.pruned, id)
	return true
}

func (l *Ledger) Get(id string) (models.ExchangeOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	order, ok := l.orders[models.NormalizeOrderID(id)]
	return order, ok
}

func (l *Ledger) ListOpen() []models.ExchangeOrder {
	return l.list(func(o models.ExchangeOrder) bool { return o.IsOpen() })
}

// All includes terminal entries still inside the retention window.
func (l *Ledger) All() []models.ExchangeOrder {
	return l.list(func(models.ExchangeOrder) bool { return true })
}

func (l *Ledger) ListOpenForSymbol(symbol string) []models.ExchangeOrder {
	return l.list(func(o models.ExchangeOrder) bool { return o.IsOpen() && o.Symbol == symbol })
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// Prune drops terminal entries older than the retention window.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

func (l *Ledger) pruneLocked(now time.Time) int {
	removed := 0
	for id, order := range l.orders {
		if !order.IsTerminal() {
			continue
		}
		if now.Sub(l.seenAt[id]) > l.retention {
			delete(l.orders, id)
			delete(l.seenAt, id)
			l.pruned[id] = now
			removed++
		}
	}
	for id, at := range l.pruned {
		if now.Sub(at) > tombstoneFactor*l.retention {
			delete(l.pruned, id)
		}
	}
	return removed
}

func (l *Ledger) list(keep func(models.ExchangeOrder) bool) []models.ExchangeOrder {
	l.mu.RLock()
	result := make([]models.ExchangeOrder, 0, len(l.orders))
	for _, order := range l.orders {
		if keep(order) {
			result = append(result, order)
		}
	}
	l.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
