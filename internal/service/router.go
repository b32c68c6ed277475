package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-router/internal/analyzer"
	"payment-router/internal/dispatch"
	"payment-router/internal/logging"
	"payment-router/internal/metrics"
	"payment-router/internal/payment"
	"payment-router/internal/registry"
	"payment-router/internal/risk"
	"payment-router/internal/routing"
	"payment-router/internal/storage"
)

// Status summarises how a transaction left the router.
type Status string

const (
	StatusApproved    Status = "approved"
	StatusDeclined    Status = "declined"
	StatusNoProcessor Status = "no_processor"
	StatusExhausted   Status = "exhausted"
	// StatusRouted means a processor was chosen but nothing was dispatched.
	StatusRouted Status = "routed"
)

// Outcome is everything the router decided for one transaction.
type Outcome struct {
	Transaction payment.Transaction `json:"transaction"`
	Status      Status              `json:"status"`
	Assessment  risk.Assessment     `json:"assessment"`
	Report      analyzer.Report     `json:"report"`
	Decisions   []routing.Decision  `json:"decisions"`
	Receipts    []dispatch.Receipt  `json:"receipts"`
}

// Final returns the last decision taken.
func (o Outcome) Final() routing.Decision {
	if len(o.Decisions) == 0 {
		return routing.Decision{}
	}
	return o.Decisions[len(o.Decisions)-1]
}

// RouterDeps are the collaborators of a Router. Dispatcher and the stores
// are optional.
type RouterDeps struct {
	Registry    *registry.Registry
	Engine      *routing.Engine
	Classifier  *risk.Classifier
	Analyzer    *analyzer.Analyzer
	Dispatcher  dispatch.Dispatcher
	Decisions   storage.DecisionStore
	Assessments storage.AssessmentStore
}

// RouterOptions bound the fallback loop and the analysis window.
type RouterOptions struct {
	MaxAttempts int
	Window      time.Duration
}

// Router classifies, routes and dispatches transactions, retrying across
// processors on processor-side rejections.
type Router struct {
	deps        RouterDeps
	maxAttempts int
	window      time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	history []payment.Transaction
}

// NewRouter validates deps and constructs a Router.
func NewRouter(deps RouterDeps, opts RouterOptions, logger zerolog.Logger) (*Router, error) {
	if deps.Registry == nil || deps.Engine == nil || deps.Classifier == nil || deps.Analyzer == nil {
		return nil, errors.New("router requires registry, engine, classifier and analyzer")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	return &Router{
		deps:        deps,
		maxAttempts: opts.MaxAttempts,
		window:      opts.Window,
		logger:      logging.Component(logger, "router"),
	}, nil
}

// ProcessOption adjusts a single Process call.
type ProcessOption func(*processConfig)

type processConfig struct {
	tier *risk.Tier
}

// WithTier overrides the classified tier. The computed assessment is still
// audited.
func WithTier(t risk.Tier) ProcessOption {
	return func(c *processConfig) { c.tier = &t }
}

// Observe adds a transaction to the rolling window without routing it.
func (r *Router) Observe(tx payment.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observeLocked(tx)
}

// Window returns a copy of the transactions currently in the window.
func (r *Router) Window() []payment.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payment.Transaction(nil), r.history...)
}

func (r *Router) observeLocked(tx payment.Transaction) {
	idx := sort.Search(len(r.history), func(i int) bool {
		return r.history[i].Created.After(tx.Created)
	})
	r.history = append(r.history, payment.Transaction{})
	copy(r.history[idx+1:], r.history[idx:])
	r.history[idx] = tx

	latest := r.history[len(r.history)-1].Created
	cutoff := latest.Add(-r.window)
	drop := sort.Search(len(r.history), func(i int) bool {
		return r.history[i].Created.After(cutoff)
	})
	if drop > 0 {
		r.history = append(r.history[:0], r.history[drop:]...)
	}
}

// Process runs one charge through analysis, classification, routing and
// dispatch. NO_PROCESSOR_AVAILABLE is reported through the outcome, not as an
// error.
func (r *Router) Process(ctx context.Context, tx payment.Transaction, opts ...ProcessOption) (Outcome, error) {
	var pc processConfig
	for _, opt := range opts {
		opt(&pc)
	}
	if tx.Type != payment.TypeCharge {
		return Outcome{}, fmt.Errorf("only charges can be routed, got %s", tx.Type)
	}
	if pc.tier != nil && pc.tier.Rank() < 0 {
		return Outcome{}, fmt.Errorf("tier override: unknown risk tier %q", *pc.tier)
	}

	r.mu.Lock()
	r.observeLocked(tx)
	window := append([]payment.Transaction(nil), r.history...)
	r.mu.Unlock()

	signal, err := r.deps.Analyzer.Analyze(window)
	if err != nil {
		return Outcome{}, fmt.Errorf("analyze window: %w", err)
	}
	assessment, err := r.deps.Classifier.Classify(signal, tx.Amount)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify %s: %w", tx.ID, err)
	}
	if pc.tier != nil && *pc.tier != assessment.Tier {
		assessment.Rationale += fmt.Sprintf("; tier overridden %s -> %s", assessment.Tier, *pc.tier)
		assessment.Tier = *pc.tier
		assessment.Effort = risk.EffortForTier(*pc.tier, r.deps.Classifier.Thresholds().MaxEffort)
	}
	metrics.ObserveRiskScore(string(assessment.Tier), assessment.Score)

	report, err := r.deps.Analyzer.Inspect(window, assessment.Effort)
	if err != nil {
		return Outcome{}, fmt.Errorf("inspect window: %w", err)
	}

	out := Outcome{Transaction: tx, Assessment: assessment, Report: report}
	r.auditAssessment(ctx, tx, assessment, report)

	excluding := make(map[string]struct{})
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		d := r.deps.Engine.Route(r.deps.Registry, routing.Request{
			Transaction: tx,
			Tier:        assessment.Tier,
			Effort:      assessment.Effort,
			Excluding:   excluding,
			Kind:        routing.KindForAttempt(attempt, r.maxAttempts),
		})
		if d.Outcome == routing.OutcomeInvalidTier {
			return out, fmt.Errorf("route %s: unknown risk tier %q", tx.ID, d.Tier)
		}
		out.Decisions = append(out.Decisions, d)
		metrics.ObserveDecision(string(d.Outcome), string(d.Tier), string(d.Kind), d.Selected)

		if !d.OK() {
			out.Status = StatusNoProcessor
			r.auditDecision(ctx, tx, d, attempt, nil)
			r.logDecision(tx, d, attempt, "")
			return out, nil
		}
		if r.deps.Dispatcher == nil {
			out.Status = StatusRouted
			r.auditDecision(ctx, tx, d, attempt, nil)
			r.logDecision(tx, d, attempt, "")
			return out, nil
		}

		receipt, dispatchErr := r.deps.Dispatcher.Dispatch(ctx, d.Selected, tx)
		if receipt.Outcome != "" {
			out.Receipts = append(out.Receipts, receipt)
			metrics.ObserveDispatch(d.Selected, string(receipt.Outcome), receipt.Latency)
		}
		r.auditDecision(ctx, tx, d, attempt, &receipt)
		r.logDecision(tx, d, attempt, receipt.Outcome)

		switch {
		case dispatchErr == nil:
			out.Status = StatusApproved
			return out, nil
		case errors.Is(dispatchErr, dispatch.ErrDeclined):
			out.Status = StatusDeclined
			return out, nil
		case errors.Is(dispatchErr, dispatch.ErrRejected):
			r.logger.Warn().Err(dispatchErr).Str("processor", d.Selected).Str("tx", tx.ID).Msg("processor rejected attempt; excluding")
			excluding[d.Selected] = struct{}{}
		default:
			return out, fmt.Errorf("dispatch %s to %s: %w", tx.ID, d.Selected, dispatchErr)
		}
	}

	out.Status = StatusExhausted
	return out, nil
}

func (r *Router) logDecision(tx payment.Transaction, d routing.Decision, attempt int, dispatched dispatch.Outcome) {
	event := r.logger.Info()
	if !d.OK() {
		event = r.logger.Warn()
	}
	event.
		Uint64("seq", d.Sequence).
		Str("tx", tx.ID).
		Str("amount", payment.FormatMinor(tx.Amount, tx.Currency)).
		Str("tier", string(d.Tier)).
		Str("effort", string(d.Effort)).
		Str("kind", string(d.Kind)).
		Int("attempt", attempt).
		Str("outcome", string(d.Outcome)).
		Str("selected", d.Selected).
		Strs("excluded", d.Excluded).
		Str("dispatch", string(dispatched)).
		Msg("routing decision")
}

func (r *Router) auditAssessment(ctx context.Context, tx payment.Transaction, a risk.Assessment, report analyzer.Report) {
	if r.deps.Assessments == nil {
		return
	}
	if err := r.deps.Assessments.InsertAssessment(ctx, AssessmentRecord(tx, a, report)); err != nil {
		r.logger.Error().Err(err).Str("tx", tx.ID).Msg("failed to persist assessment")
	}
}

func (r *Router) auditDecision(ctx context.Context, tx payment.Transaction, d routing.Decision, attempt int, receipt *dispatch.Receipt) {
	if r.deps.Decisions == nil {
		return
	}
	rec, err := DecisionRecord(tx, d, attempt, receipt)
	if err != nil {
		r.logger.Error().Err(err).Str("tx", tx.ID).Msg("failed to encode decision")
		return
	}
	if err := r.deps.Decisions.InsertDecision(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("tx", tx.ID).Msg("failed to persist decision")
	}
}

// DecisionRecord converts a decision into its audit row.
func DecisionRecord(tx payment.Transaction, d routing.Decision, attempt int, receipt *dispatch.Receipt) (storage.DecisionRecord, error) {
	candidates, err := json.Marshal(d.Candidates)
	if err != nil {
		return storage.DecisionRecord{}, fmt.Errorf("marshal candidates: %w", err)
	}
	eliminated, err := json.Marshal(d.Eliminated)
	if err != nil {
		return storage.DecisionRecord{}, fmt.Errorf("marshal eliminated: %w", err)
	}

	rec := storage.DecisionRecord{
		Sequence:      int64(d.Sequence),
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Tier:          string(d.Tier),
		Effort:        string(d.Effort),
		Kind:          string(d.Kind),
		Attempt:       attempt,
		Outcome:       string(d.Outcome),
		Candidates:    candidates,
		Eliminated:    eliminated,
		Excluded:      d.Excluded,
		DecidedAt:     d.DecidedAt,
	}
	if d.Selected != "" {
		selected := d.Selected
		rec.Selected = &selected
	}
	if receipt != nil && receipt.Outcome != "" {
		outcome := string(receipt.Outcome)
		rec.DispatchOutcome = &outcome
	}
	return rec, nil
}

// AssessmentRecord converts an assessment into its audit row.
func AssessmentRecord(tx payment.Transaction, a risk.Assessment, report analyzer.Report) storage.AssessmentRecord {
	return storage.AssessmentRecord{
		TransactionID:        tx.ID,
		Score:                decimal.NewFromFloat(a.Score).Round(4),
		Tier:                 string(a.Tier),
		Effort:               string(a.Effort),
		AmountFactor:         decimal.NewFromFloat(a.Signal.AmountFactor).Round(6),
		VelocityFactor:       decimal.NewFromFloat(a.Signal.VelocityFactor).Round(6),
		RefundRateFactor:     decimal.NewFromFloat(a.Signal.RefundRateFactor).Round(6),
		ChargebackRateFactor: decimal.NewFromFloat(a.Signal.ChargebackRateFactor).Round(6),
		VolumeSpike:          a.Signal.VolumeSpike,
		Breaches:             a.Breaches,
		Rationale:            a.Rationale,
		Findings:             report.Summary(),
	}
}
