package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// StrategyInfo holds runtime counters for a registered strategy (for status APIs).
type StrategyInfo struct {
	Name          string     `json:"name"`
	Products      []string   `json:"products"`
	Evaluations   int64      `json:"evaluations"`
	Opportunities int64      `json:"opportunities"`
	Blocked       int64      `json:"blocked_by_limits"`
	Dispatches    int64      `json:"dispatches"`
	LastDispatch  *time.Time `json:"last_dispatch,omitempty"`
}

// Registry manages a named collection of strategies and their counters. It
// is safe for concurrent use.
type Registry struct {
	strategies map[string]Strategy
	info       map[string]*StrategyInfo
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		info:       make(map[string]*StrategyInfo),
	}
}

// Register adds s under its own name. Registering a name twice is an error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, ok := r.strategies[name]; ok {
		return fmt.Errorf("strategy %q: already registered", name)
	}
	r.strategies[name] = s
	r.info[name] = &StrategyInfo{Name: name, Products: s.Products()}
	return nil
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// All returns every registered strategy ordered by name.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.strategies))
	for _, n := range r.namesLocked() {
		out = append(out, r.strategies[n])
	}
	return out
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns a copy of the counters for every registered strategy.
func (r *Registry) ListInfo() []StrategyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]StrategyInfo, 0, len(r.info))
	for _, n := range r.namesLocked() {
		infos = append(infos, *r.info[n])
	}
	return infos
}

func (r *Registry) update(name string, fn func(*StrategyInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.info[name]; ok {
		fn(info)
	}
}
