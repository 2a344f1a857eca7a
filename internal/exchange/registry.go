package exchange

import (
	"fmt"
	"sort"
	"sync"
)

type Registry struct {
	mu     sync.RWMutex
	venues map[string]Exchange
}

func NewRegistry(venues ...Exchange) *Registry {
	r := &Registry{venues: make(map[string]Exchange)}
	for _, v := range venues {
		r.venues[v.Name()] = v
	}
	return r
}

func (r *Registry) Add(venue Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[venue.Name()]; ok {
		return fmt.Errorf("биржа %s уже зарегистрирована", venue.Name())
	}
	r.venues[venue.Name()] = venue
	return nil
}

func (r *Registry) Get(name string) (Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[name]
	return v, ok
}

func (r *Registry) All() []Exchange {
	r.mu.RLock()
	result := make([]Exchange, 0, len(r.venues))
	for _, v := range r.venues {
		result = append(result, v)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}
