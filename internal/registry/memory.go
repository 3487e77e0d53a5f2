package registry

import (
	"context"
	"sync"
)

type MemoryRegistry struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{states: make(map[string]State)}
}

func (r *MemoryRegistry) Begin(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[id]; ok {
		return ErrExists
	}
	r.states[id] = StateBuilding
	return nil
}

func (r *MemoryRegistry) MarkReady(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = StateReady
	return nil
}

func (r *MemoryRegistry) Abort(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.states[id] {
	case StateReady:
		return ErrReady
	case StateBuilding:
		delete(r.states, id)
	}
	return nil
}

func (r *MemoryRegistry) State(_ context.Context, id string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[id], nil
}

// Len reports how many ids are building or ready.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
