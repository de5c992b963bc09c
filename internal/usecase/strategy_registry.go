package usecase

import (
	"sort"
	"sync"

	"github.com/vitos/crypto_martingale/internal/domain"
)

// StrategyRegistry holds the active strategy state per symbol.
//
// Callers that read-modify-write a symbol must hold Lock(symbol) for the
// whole operation; map access itself is guarded by mu so snapshots never
// observe a half-written entry.
type StrategyRegistry struct {
	mu     sync.RWMutex
	states map[string]*domain.StrategyState

	locksMu sync.Mutex
	locks   map[string]*symbolLock
}

type symbolLock struct {
	mu   sync.Mutex
	refs int
}

func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		states: make(map[string]*domain.StrategyState),
		locks:  make(map[string]*symbolLock),
	}
}

// Lock acquires the per-symbol lock and returns its release func.
func (r *StrategyRegistry) Lock(symbol string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[symbol]
	if !ok {
		l = &symbolLock{}
		r.locks[symbol] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, symbol)
		}
		r.locksMu.Unlock()
	}
}

// Get returns a copy of the state for symbol.
func (r *StrategyRegistry) Get(symbol string) (domain.StrategyState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[symbol]
	if !ok {
		return domain.StrategyState{}, false
	}
	return *st, true
}

func (r *StrategyRegistry) Put(state domain.StrategyState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := state
	r.states[state.Symbol] = &st
}

func (r *StrategyRegistry) Delete(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, symbol)
}

// Snapshot returns copies of all states sorted by symbol.
func (r *StrategyRegistry) Snapshot() []domain.StrategyState {
	r.mu.RLock()
	out := make([]domain.StrategyState, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, *st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *StrategyRegistry) Symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.states))
	for s := range r.states {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (r *StrategyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
