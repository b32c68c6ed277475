package routing

import (
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"payment-router/internal/payment"
	"payment-router/internal/registry"
	"payment-router/internal/risk"
)

// CandidateSource supplies a consistent view of processor state.
type CandidateSource interface {
	Snapshot() []payment.ProcessorState
}

// Request bundles the inputs of one routing call.
type Request struct {
	Transaction payment.Transaction
	Tier        risk.Tier
	// Effort defaults to the tier's effort when empty.
	Effort    risk.Effort
	Excluding map[string]struct{}
	Kind      Kind
}

// Engine selects one processor per call. Apart from the decision sequence
// counter it holds no state and performs no I/O.
type Engine struct {
	seq atomic.Uint64
	now func() time.Time
}

// NewEngine constructs an engine. A nil clock defaults to time.Now.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Route picks a processor for req from the snapshot exposed by source. Tier
// names are matched case-insensitively; an unknown tier yields an
// INVALID_TIER decision without consulting the source.
func (e *Engine) Route(source CandidateSource, req Request) Decision {
	tier, err := risk.ParseTier(string(req.Tier))
	if err != nil {
		return Decision{
			Sequence:      e.seq.Add(1),
			TransactionID: req.Transaction.ID,
			Tier:          req.Tier,
			Kind:          req.Kind,
			Outcome:       OutcomeInvalidTier,
			Candidates:    []Candidate{},
			Eliminated:    []Candidate{},
			Excluded:      sortedKeys(req.Excluding),
			DecidedAt:     e.now().UTC(),
		}
	}
	req.Tier = tier

	snapshot := source.Snapshot()
	amount := req.Transaction.Amount

	viable := make([]Candidate, 0, len(snapshot))
	eliminated := make([]Candidate, 0)
	for _, state := range snapshot {
		c := Candidate{
			ProcessorID: state.ID,
			Health:      state.Health,
			Fee:         state.Fee.Fee(amount),
			SuccessRate: state.SuccessRate,
			Priority:    state.Priority,
		}
		switch {
		case !state.Health.Routable():
			c.Reason = ReasonFrozen
		case isExcluded(req.Excluding, state.ID):
			c.Reason = ReasonExcluded
		case !state.Accepts(amount):
			c.Reason = ReasonExceedsLimit
		}
		if c.Reason != "" {
			eliminated = append(eliminated, c)
			continue
		}
		viable = append(viable, c)
	}

	effort := req.Effort
	if effort == "" {
		effort = risk.EffortForTier(req.Tier, "")
	}
	kind := req.Kind
	if kind == "" {
		kind = KindPrimary
	}

	d := Decision{
		Sequence:      e.seq.Add(1),
		TransactionID: req.Transaction.ID,
		Tier:          req.Tier,
		Effort:        effort,
		Kind:          kind,
		Eliminated:    eliminated,
		Excluded:      sortedKeys(req.Excluding),
		DecidedAt:     e.now().UTC(),
	}

	if len(viable) == 0 {
		d.Outcome = OutcomeNoProcessorAvailable
		d.Candidates = []Candidate{}
		return d
	}

	Order(viable, req.Tier)
	viable[0].Reason = ReasonSelected
	for i := 1; i < len(viable); i++ {
		viable[i].Reason = ReasonLowerPriority
	}

	d.Outcome = OutcomeSelected
	d.Selected = viable[0].ProcessorID
	d.Candidates = viable
	return d
}

// Order sorts candidates in place. HIGH tier is reliability-first (success
// rate, then fee); other tiers are cost-first (fee, then success rate). The
// sort is stable so the incoming registry order breaks remaining ties.
func Order(candidates []Candidate, tier risk.Tier) {
	reliability := func(a, b Candidate) int {
		switch {
		case a.SuccessRate > b.SuccessRate:
			return -1
		case a.SuccessRate < b.SuccessRate:
			return 1
		}
		return 0
	}
	cost := func(a, b Candidate) int {
		return a.Fee.Cmp(b.Fee)
	}

	primary, secondary := cost, reliability
	if tier == risk.TierHigh {
		primary, secondary = reliability, cost
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		if c := primary(a, b); c != 0 {
			return c
		}
		return secondary(a, b)
	})
}

// Sequence returns the last issued decision sequence number.
func (e *Engine) Sequence() uint64 {
	return e.seq.Load()
}

func isExcluded(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ CandidateSource = (*registry.Registry)(nil)
