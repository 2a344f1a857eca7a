package intent

import (
	"context"
	"sort"
	"sync"
	"time"

	"intentbot/internal/logger"
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

type Key struct {
	Exchange string
	Symbol   string
}

// Persister mirrors intent changes to durable storage so they survive a restart.
type Persister interface {
	SaveIntent(ctx context.Context, state models.PairState) error
	// DeleteIntent removes the saved intent of the pair only if it is still id.
	DeleteIntent(ctx context.Context, exchange, symbol, id string) error
}

// Store holds at most one intent per (exchange, symbol). Engine side writes
// carry the intent id, so a write for a replaced intent is dropped.
// Persister calls are made in the order the changes were applied.
type Store struct {
	mu      sync.RWMutex
	states  map[Key]models.PairState
	now     func() time.Time
	persist sync.Mutex

	persister Persister
	log       *logger.Logger
}

func NewStore() *Store {
	return &Store{
		states: make(map[Key]models.PairState),
		now:    time.Now,
	}
}

func (s *Store) WithPersister(p Persister, log *logger.Logger) *Store {
	s.persister = p
	s.log = log
	return s
}

// SetIntent replaces whatever intent the pair had.
func (s *Store) SetIntent(exchange, symbol string, state models.IntentState, capital *models.CapitalSpec, options models.IntentOptions) (models.PairState, error) {
	ps, err := models.NewPairState(exchange, symbol, state, capital, options, s.now())
	if err != nil {
		return models.PairState{}, err
	}
	s.mu.Lock()
	s.states[Key{exchange, symbol}] = ps.Clone()
	s.handOff()
	s.save(ps)
	return ps.Clone(), nil
}

func (s *Store) ClearIntent(exchange, symbol string) bool {
	key := Key{exchange, symbol}
	s.mu.Lock()
	current, ok := s.states[key]
	delete(s.states, key)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.handOff()
	s.remove(current)
	return true
}

func (s *Store) IsNeutral(exchange, symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[Key{exchange, symbol}]
	return !ok
}

func (s *Store) Get(exchange, symbol string) (models.PairState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.states[Key{exchange, symbol}]
	if !ok {
		return models.PairState{}, false
	}
	return ps.Clone(), true
}

func (s *Store) ListIntents() []models.PairState {
	s.mu.RLock()
	result := make([]models.PairState, 0, len(s.states))
	for _, ps := range s.states {
		result = append(result, ps.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].Exchange != result[j].Exchange {
			return result[i].Exchange < result[j].Exchange
		}
		return result[i].Symbol < result[j].Symbol
	})
	return result
}

// Update stores the tracked order fields of state if it is still the live
// intent. Retries are never lowered.
func (s *Store) Update(state models.PairState) bool {
	key := Key{state.Exchange, state.Symbol}
	s.mu.Lock()
	current, ok := s.states[key]
	if !ok || current.ID != state.ID {
		s.mu.Unlock()
		return false
	}
	if state.Retries < current.Retries {
		state.Retries = current.Retries
	}
	s.states[key] = state.Clone()
	s.handOff()
	s.save(state)
	return true
}

func (s *Store) IncrementRetries(exchange, symbol, id string) (int, bool) {
	key := Key{exchange, symbol}
	s.mu.Lock()
	current, ok := s.states[key]
	if !ok || current.ID != id {
		s.mu.Unlock()
		return 0, false
	}
	current.Retries++
	s.states[key] = current
	s.handOff()
	s.save(current)
	return current.Retries, true
}

// Delete removes the intent only if id still names it.
func (s *Store) Delete(exchange, symbol, id string) bool {
	key := Key{exchange, symbol}
	s.mu.Lock()
	current, ok := s.states[key]
	if !ok || current.ID != id {
		s.mu.Unlock()
		return false
	}
	delete(s.states, key)
	s.handOff()
	s.remove(current)
	return true
}

// Restore loads intents saved before a restart without touching the persister.
func (s *Store) Restore(states []models.PairState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for _, ps := range states {
		if _, err := models.ParseIntentState(string(ps.State)); err != nil {
			continue
		}
		s.states[Key{ps.Exchange, ps.Symbol}] = ps.Clone()
		restored++
	}
	return restored
}

// handOff trades s.mu for the persist lock, so the next change cannot reach
// the persister before this one. save and remove release it.
func (s *Store) handOff() {
	s.persist.Lock()
	s.mu.Unlock()
}

func (s *Store) save(state models.PairState) {
	defer s.persist.Unlock()
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.SaveIntent(ctx, state); err != nil {
		s.logEntry().WithError(err).WithFields(logrus.Fields{
			"exchange": state.Exchange,
			"symbol":   state.Symbol,
		}).Warn("Не удалось сохранить намерение.")
	}
}

func (s *Store) remove(state models.PairState) {
	defer s.persist.Unlock()
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.DeleteIntent(ctx, state.Exchange, state.Symbol, state.ID); err != nil {
		s.logEntry().WithError(err).WithFields(logrus.Fields{
			"exchange": state.Exchange,
			"symbol":   state.Symbol,
		}).Warn("Не удалось удалить сохранённое намерение.")
	}
}

func (s *Store) logEntry() *logrus.Entry {
	if s.log == nil {
		return logger.Discard().WithComponent("intent")
	}
	return s.log.WithComponent("intent")
}
