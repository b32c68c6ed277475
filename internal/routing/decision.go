package routing

import (
	"time"

	"github.com/shopspring/decimal"

	"payment-router/internal/payment"
	"payment-router/internal/risk"
)

// Outcome is the overall result of a routing call.
type Outcome string

const (
	OutcomeSelected             Outcome = "SELECTED"
	OutcomeNoProcessorAvailable Outcome = "NO_PROCESSOR_AVAILABLE"
	// OutcomeInvalidTier rejects a request whose tier is not MINIMAL, MEDIUM or HIGH.
	OutcomeInvalidTier Outcome = "INVALID_TIER"
)

// Reason explains why a processor was or was not chosen.
type Reason string

const (
	ReasonSelected      Reason = "selected"
	ReasonLowerPriority Reason = "lower_priority"
	ReasonFrozen        Reason = "frozen"
	ReasonExcluded      Reason = "excluded"
	ReasonExceedsLimit  Reason = "exceeds_limit"
)

// Kind tells primary attempts apart from fallbacks in the caller's retry loop.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindFallback  Kind = "fallback"
	KindEmergency Kind = "emergency"
)

// KindForAttempt classifies the zero-based attempt index of a bounded retry loop.
func KindForAttempt(attempt, maxAttempts int) Kind {
	switch {
	case attempt <= 0:
		return KindPrimary
	case attempt >= maxAttempts-1:
		return KindEmergency
	default:
		return KindFallback
	}
}

// Candidate is one processor evaluated by a decision.
type Candidate struct {
	ProcessorID string          `json:"processor_id"`
	Health      payment.Health  `json:"health"`
	Fee         decimal.Decimal `json:"fee"`
	SuccessRate float64         `json:"success_rate"`
	Priority    int             `json:"priority"`
	Reason      Reason          `json:"reason"`
}

// Decision is an immutable routing result. Later attempts produce new
// decisions with higher sequence numbers instead of mutating this one.
type Decision struct {
	Sequence      uint64      `json:"sequence"`
	TransactionID string      `json:"transaction_id"`
	Tier          risk.Tier   `json:"tier"`
	Effort        risk.Effort `json:"effort"`
	Kind          Kind        `json:"kind"`
	Outcome       Outcome     `json:"outcome"`
	Selected      string      `json:"selected,omitempty"`
	Candidates    []Candidate `json:"candidates"`
	Eliminated    []Candidate `json:"eliminated"`
	Excluded      []string    `json:"excluded,omitempty"`
	DecidedAt     time.Time   `json:"decided_at"`
}

// OK reports whether a processor was selected.
func (d Decision) OK() bool {
	return d.Outcome == OutcomeSelected && d.Selected != ""
}

// SelectedCandidate returns the winning candidate, if any.
func (d Decision) SelectedCandidate() (Candidate, bool) {
	if !d.OK() || len(d.Candidates) == 0 {
		return Candidate{}, false
	}
	return d.Candidates[0], true
}

// EliminationReason returns why id was eliminated, if it was.
func (d Decision) EliminationReason(id string) (Reason, bool) {
	for _, c := range d.Eliminated {
		if c.ProcessorID == id {
			return c.Reason, true
		}
	}
	return "", false
}
