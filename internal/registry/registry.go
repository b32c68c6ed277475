package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"payment-router/internal/payment"
)

var (
	// ErrUnknownProcessor indicates the id is not registered.
	ErrUnknownProcessor = errors.New("registry: unknown processor")
	// ErrDuplicateProcessor indicates the id is already registered.
	ErrDuplicateProcessor = errors.New("registry: duplicate processor")
	// ErrInvalidHealth indicates a health value outside ACTIVE/DEGRADED/FROZEN.
	ErrInvalidHealth = errors.New("registry: invalid health state")
)

// Transition describes a health change applied to one processor.
type Transition struct {
	ID   string
	From payment.Health
	To   payment.Health
	At   time.Time
}

// Changed reports whether the transition altered the stored state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

type entry struct {
	state atomic.Pointer[payment.ProcessorState]
}

// Registry is the authoritative view of processor health. Each processor's
// state is swapped atomically as a whole, so readers never observe a partial
// update; writes to different processors do not contend with each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New constructs an empty registry. A nil clock defaults to time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{entries: make(map[string]*entry), now: now}
}

// Register adds a processor with an initial health.
func (r *Registry) Register(p payment.Processor, health payment.Health) error {
	if err := validate(p); err != nil {
		return err
	}
	if !health.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHealth, health)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, p.ID)
	}

	e := &entry{}
	e.state.Store(&payment.ProcessorState{Processor: p, Health: health, UpdatedAt: r.now().UTC()})
	r.entries[p.ID] = e
	return nil
}

// SetHealth transitions a processor's health. Every pair of states is a legal
// transition; setting the current state is a no-op.
func (r *Registry) SetHealth(id string, health payment.Health) (Transition, error) {
	if !health.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidHealth, health)
	}
	e, err := r.lookup(id)
	if err != nil {
		return Transition{}, err
	}

	at := r.now().UTC()
	for {
		current := e.state.Load()
		if current.Health == health {
			return Transition{ID: id, From: current.Health, To: health, At: current.UpdatedAt}, nil
		}
		next := *current
		next.Health = health
		next.UpdatedAt = at
		if e.state.CompareAndSwap(current, &next) {
			return Transition{ID: id, From: current.Health, To: health, At: at}, nil
		}
	}
}

// UpdateMetrics replaces the rolling success-rate and latency estimates.
func (r *Registry) UpdateMetrics(id string, successRate float64, latency time.Duration) error {
	if successRate < 0 || successRate > 1 {
		return fmt.Errorf("success rate %.4f outside [0,1]", successRate)
	}
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	at := r.now().UTC()
	for {
		current := e.state.Load()
		next := *current
		next.SuccessRate = successRate
		next.Latency = latency
		next.UpdatedAt = at
		if e.state.CompareAndSwap(current, &next) {
			return nil
		}
	}
}

// Get returns the current state of one processor.
func (r *Registry) Get(id string) (payment.ProcessorState, error) {
	e, err := r.lookup(id)
	if err != nil {
		return payment.ProcessorState{}, err
	}
	return *e.state.Load(), nil
}

// Snapshot returns every processor in candidate order regardless of health.
func (r *Registry) Snapshot() []payment.ProcessorState {
	r.mu.RLock()
	states := make([]payment.ProcessorState, 0, len(r.entries))
	for _, e := range r.entries {
		states = append(states, *e.state.Load())
	}
	r.mu.RUnlock()

	SortByPriority(states)
	return states
}

// Candidates returns routable processors ordered by priority rank then
// ascending fee, skipping any id in excluding.
func (r *Registry) Candidates(excluding map[string]struct{}) []payment.ProcessorState {
	return FilterRoutable(r.Snapshot(), excluding)
}

// IDs lists registered processor ids in candidate order.
func (r *Registry) IDs() []string {
	snapshot := r.Snapshot()
	ids := make([]string, len(snapshot))
	for i, s := range snapshot {
		ids[i] = s.ID
	}
	return ids
}

// Len returns the number of registered processors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, id)
	}
	return e, nil
}

// SortByPriority orders states by priority rank, fee model, then id.
func SortByPriority(states []payment.ProcessorState) {
	slices.SortStableFunc(states, func(a, b payment.ProcessorState) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		if c := a.Fee.Compare(b.Fee); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// FilterRoutable keeps ACTIVE and DEGRADED states not present in excluding,
// preserving order.
func FilterRoutable(states []payment.ProcessorState, excluding map[string]struct{}) []payment.ProcessorState {
	out := make([]payment.ProcessorState, 0, len(states))
	for _, s := range states {
		if !s.Health.Routable() {
			continue
		}
		if _, skip := excluding[s.ID]; skip {
			continue
		}
		out = append(out, s)
	}
	return out
}

func validate(p payment.Processor) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("processor id is required")
	}
	if p.Fee.Rate.IsNegative() || p.Fee.Rate.GreaterThan(decimalOne) {
		return fmt.Errorf("processor %s: fee rate %s outside [0,1]", p.ID, p.Fee.Rate)
	}
	if p.Fee.Fixed.IsNegative() {
		return fmt.Errorf("processor %s: fixed fee cannot be negative", p.ID)
	}
	if p.SuccessRate < 0 || p.SuccessRate > 1 {
		return fmt.Errorf("processor %s: success rate %.4f outside [0,1]", p.ID, p.SuccessRate)
	}
	if p.MaxAmount.IsNegative() {
		return fmt.Errorf("processor %s: max amount cannot be negative", p.ID)
	}
	return nil
}
