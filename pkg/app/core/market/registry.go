package market

import (
	"sort"
	"sync"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
)

// Registry holds trading pair configurations keyed by instrument
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]*TradingPair
}

func NewRegistry() *Registry {
	return &Registry{pairs: make(map[string]*TradingPair)}
}

// Register adds a pair. Returns a StateError if the instrument is already listed.
func (r *Registry) Register(tp *TradingPair) error {
	if tp == nil {
		return apperr.Validationf("cannot register nil trading pair")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[tp.Instrument]; exists {
		return apperr.Statef("trading pair %s already registered", tp.Instrument)
	}
	r.pairs[tp.Instrument] = tp
	return nil
}

// Get returns a copy of the pair so callers cannot mutate registry state
func (r *Registry) Get(instrument string) (TradingPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tp, ok := r.pairs[instrument]
	if !ok {
		return TradingPair{}, apperr.NotFoundf("trading pair %s not found", instrument)
	}
	return *tp, nil
}

// IsActive reports whether the instrument is listed and active
func (r *Registry) IsActive(instrument string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tp, ok := r.pairs[instrument]
	return ok && tp.Active
}

// SetActive toggles a pair's status
func (r *Registry) SetActive(instrument string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tp, ok := r.pairs[instrument]
	if !ok {
		return apperr.NotFoundf("trading pair %s not found", instrument)
	}
	tp.Active = active
	return nil
}

// List returns copies of all pairs sorted by instrument
func (r *Registry) List() []TradingPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TradingPair, 0, len(r.pairs))
	for _, tp := range r.pairs {
		out = append(out, *tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}
