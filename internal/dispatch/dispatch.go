package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"payment-router/internal/payment"
)

var (
	// ErrRejected marks a processor-side failure; another processor may succeed.
	ErrRejected = errors.New("processor rejected the request")
	// ErrDeclined marks a hard decline that no processor will accept.
	ErrDeclined = errors.New("payment declined")
)

// Outcome is the processor's answer to one attempt.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeSoftDecline Outcome = "soft_decline"
	OutcomeHardDecline Outcome = "hard_decline"
	OutcomeError       Outcome = "error"
)

// Receipt describes a completed attempt.
type Receipt struct {
	ProcessorID string        `json:"processor_id"`
	Outcome     Outcome       `json:"outcome"`
	Latency     time.Duration `json:"latency"`
}

// Dispatcher sends a transaction to a processor.
type Dispatcher interface {
	Dispatch(ctx context.Context, processorID string, tx payment.Transaction) (Receipt, error)
}

// Distribution holds outcome probabilities; they must sum to 1.
type Distribution struct {
	Approval    float64 `mapstructure:"approval"`
	SoftDecline float64 `mapstructure:"soft_decline"`
	HardDecline float64 `mapstructure:"hard_decline"`
	Error       float64 `mapstructure:"error"`
}

// Validate checks that the probabilities form a distribution.
func (d Distribution) Validate() error {
	for _, v := range []float64{d.Approval, d.SoftDecline, d.HardDecline, d.Error} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("probability %v outside [0,1]", v)
		}
	}
	if sum := d.Approval + d.SoftDecline + d.HardDecline + d.Error; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("probabilities sum to %.4f, want 1", sum)
	}
	return nil
}

func (d Distribution) draw(u float64) Outcome {
	switch {
	case u < d.Approval:
		return OutcomeApproved
	case u < d.Approval+d.SoftDecline:
		return OutcomeSoftDecline
	case u < d.Approval+d.SoftDecline+d.HardDecline:
		return OutcomeHardDecline
	default:
		return OutcomeError
	}
}

// Profile simulates one processor.
type Profile struct {
	Outcomes   Distribution
	MinLatency time.Duration
	MaxLatency time.Duration
}

// ProfileFor derives a profile from a processor's published estimates: the
// success rate approves and the remainder splits between soft declines and
// errors.
func ProfileFor(p payment.Processor) Profile {
	fail := 1 - p.SuccessRate
	return Profile{
		Outcomes: Distribution{
			Approval:    p.SuccessRate,
			SoftDecline: fail / 2,
			Error:       fail / 2,
		},
		MinLatency: p.Latency / 2,
		MaxLatency: p.Latency * 3 / 2,
	}
}

// Simulated draws outcomes from seeded per-processor distributions.
type Simulated struct {
	mu       sync.Mutex
	rng      *rand.Rand
	profiles map[string]Profile
	sleep    bool
}

// NewSimulated validates profiles. With sleep set, Dispatch waits for the
// drawn latency or until ctx is done.
func NewSimulated(seed int64, profiles map[string]Profile, sleep bool) (*Simulated, error) {
	copied := make(map[string]Profile, len(profiles))
	for id, p := range profiles {
		if err := p.Outcomes.Validate(); err != nil {
			return nil, fmt.Errorf("dispatch profile %s: %w", id, err)
		}
		if p.MinLatency < 0 || p.MaxLatency < p.MinLatency {
			return nil, fmt.Errorf("dispatch profile %s: invalid latency range", id)
		}
		copied[id] = p
	}
	return &Simulated{
		rng:      rand.New(rand.NewSource(seed)),
		profiles: copied,
		sleep:    sleep,
	}, nil
}

// Dispatch simulates one attempt. Soft declines and errors wrap ErrRejected;
// hard declines wrap ErrDeclined.
func (s *Simulated) Dispatch(ctx context.Context, processorID string, tx payment.Transaction) (Receipt, error) {
	profile, ok := s.profiles[processorID]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: no simulation profile for %s", ErrRejected, processorID)
	}

	s.mu.Lock()
	outcome := profile.Outcomes.draw(s.rng.Float64())
	latency := profile.MinLatency
	if span := profile.MaxLatency - profile.MinLatency; span > 0 {
		latency += time.Duration(s.rng.Int63n(int64(span) + 1))
	}
	s.mu.Unlock()

	if s.sleep {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Receipt{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{ProcessorID: processorID, Outcome: outcome, Latency: latency}
	switch outcome {
	case OutcomeSoftDecline, OutcomeError:
		return receipt, fmt.Errorf("%w: %s returned %s for %s", ErrRejected, processorID, outcome, tx.ID)
	case OutcomeHardDecline:
		return receipt, fmt.Errorf("%w: %s hard-declined %s", ErrDeclined, processorID, tx.ID)
	}
	return receipt, nil
}

var _ Dispatcher = (*Simulated)(nil)
