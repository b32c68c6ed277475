package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DecisionRecord is one audited routing decision.
type DecisionRecord struct {
	ID              uuid.UUID
	Sequence        int64
	TransactionID   string
	Amount          decimal.Decimal
	Currency        string
	Tier            string
	Effort          string
	Kind            string
	Attempt         int
	Outcome         string
	Selected        *string
	DispatchOutcome *string
	Candidates      json.RawMessage
	Eliminated      json.RawMessage
	Excluded        []string
	DecidedAt       time.Time
	CreatedAt       time.Time
}

// AssessmentRecord is the audited tier computation for a transaction.
type AssessmentRecord struct {
	ID                   uuid.UUID
	TransactionID        string
	Score                decimal.Decimal
	Tier                 string
	Effort               string
	AmountFactor         decimal.Decimal
	VelocityFactor       decimal.Decimal
	RefundRateFactor     decimal.Decimal
	ChargebackRateFactor decimal.Decimal
	VolumeSpike          bool
	Breaches             []string
	Rationale            string
	Findings             string
	CreatedAt            time.Time
}

// HealthEvent records a processor health transition.
type HealthEvent struct {
	ID          int64
	ProcessorID string
	FromHealth  string
	ToHealth    string
	Reason      string
	SuccessRate *float64
	LatencyMS   *int64
	CreatedAt   time.Time
}
