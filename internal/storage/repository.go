package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertDecisionSQL = `INSERT INTO routing_decisions (
        id,
        sequence,
        transaction_id,
        amount,
        currency,
        tier,
        effort,
        kind,
        attempt,
        outcome,
        selected,
        dispatch_outcome,
        candidates,
        eliminated,
        excluded,
        decided_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    )
    ON CONFLICT (id) DO NOTHING;`

	listRecentDecisionsSQL = `SELECT
        id,
        sequence,
        transaction_id,
        amount,
        currency,
        tier,
        effort,
        kind,
        attempt,
        outcome,
        selected,
        dispatch_outcome,
        candidates,
        eliminated,
        excluded,
        decided_at,
        created_at
    FROM routing_decisions
    ORDER BY decided_at DESC, sequence DESC
    LIMIT $1;`

	countDecisionsSQL = `SELECT COUNT(*) FROM routing_decisions;`

	insertAssessmentSQL = `INSERT INTO risk_assessments (
        id,
        transaction_id,
        score,
        tier,
        effort,
        amount_factor,
        velocity_factor,
        refund_rate_factor,
        chargeback_rate_factor,
        volume_spike,
        breaches,
        rationale,
        findings
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (id) DO NOTHING;`

	insertHealthEventSQL = `INSERT INTO processor_health_events (
        processor_id,
        from_health,
        to_health,
        reason,
        success_rate,
        latency_ms
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentHealthEventsSQL = `SELECT
        id,
        processor_id,
        from_health,
        to_health,
        reason,
        success_rate,
        latency_ms,
        created_at
    FROM processor_health_events
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteHealthEventsBeforeSQL = `DELETE FROM processor_health_events WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DecisionStore persists routing decisions.
type DecisionStore interface {
	InsertDecision(ctx context.Context, rec DecisionRecord) error
	ListRecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	CountDecisions(ctx context.Context) (int64, error)
}

// AssessmentStore persists risk assessments.
type AssessmentStore interface {
	InsertAssessment(ctx context.Context, rec AssessmentRecord) error
}

// HealthEventStore persists processor health transitions.
type HealthEventStore interface {
	InsertHealthEvent(ctx context.Context, ev HealthEvent) (HealthEvent, error)
	ListRecentHealthEvents(ctx context.Context, limit int) ([]HealthEvent, error)
	DeleteHealthEventsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the audit tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Closing the connection releases the lock if the explicit unlock fails.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertDecision persists a routing decision.
func (s *Store) InsertDecision(ctx context.Context, rec DecisionRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	excluded := rec.Excluded
	if excluded == nil {
		excluded = []string{}
	}

	_, execErr := pool.Exec(ctx, insertDecisionSQL,
		rec.ID,
		rec.Sequence,
		rec.TransactionID,
		rec.Amount.String(),
		rec.Currency,
		rec.Tier,
		rec.Effort,
		rec.Kind,
		rec.Attempt,
		rec.Outcome,
		rec.Selected,
		rec.DispatchOutcome,
		[]byte(rec.Candidates),
		[]byte(rec.Eliminated),
		excluded,
		rec.DecidedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert decision: %w", execErr)
	}
	return nil
}

// ListRecentDecisions lists the most recent decisions, newest first.
func (s *Store) ListRecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDecisionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent decisions: %w", queryErr)
	}
	defer rows.Close()

	records := make([]DecisionRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanDecision(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountDecisions counts stored decisions.
func (s *Store) CountDecisions(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countDecisionsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count decisions: %w", scanErr)
	}
	return count, nil
}

// InsertAssessment persists a risk assessment.
func (s *Store) InsertAssessment(ctx context.Context, rec AssessmentRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	breaches := rec.Breaches
	if breaches == nil {
		breaches = []string{}
	}

	_, execErr := pool.Exec(ctx, insertAssessmentSQL,
		rec.ID,
		rec.TransactionID,
		rec.Score.String(),
		rec.Tier,
		rec.Effort,
		rec.AmountFactor.String(),
		rec.VelocityFactor.String(),
		rec.RefundRateFactor.String(),
		rec.ChargebackRateFactor.String(),
		rec.VolumeSpike,
		breaches,
		rec.Rationale,
		rec.Findings,
	)
	if execErr != nil {
		return fmt.Errorf("insert assessment: %w", execErr)
	}
	return nil
}

// InsertHealthEvent persists a health transition.
func (s *Store) InsertHealthEvent(ctx context.Context, ev HealthEvent) (HealthEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return HealthEvent{}, err
	}

	row := pool.QueryRow(ctx, insertHealthEventSQL,
		ev.ProcessorID,
		ev.FromHealth,
		ev.ToHealth,
		ev.Reason,
		ev.SuccessRate,
		ev.LatencyMS,
	)
	if scanErr := row.Scan(&ev.ID, &ev.CreatedAt); scanErr != nil {
		return HealthEvent{}, fmt.Errorf("insert health event: %w", scanErr)
	}
	return ev, nil
}

// ListRecentHealthEvents lists the most recent health transitions.
func (s *Store) ListRecentHealthEvents(ctx context.Context, limit int) ([]HealthEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHealthEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent health events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]HealthEvent, 0, limit)
	for rows.Next() {
		var (
			ev      HealthEvent
			success sql.NullFloat64
			latency sql.NullInt64
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.ProcessorID,
			&ev.FromHealth,
			&ev.ToHealth,
			&ev.Reason,
			&success,
			&latency,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		if success.Valid {
			v := success.Float64
			ev.SuccessRate = &v
		}
		if latency.Valid {
			v := latency.Int64
			ev.LatencyMS = &v
		}
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteHealthEventsBefore deletes historical health events.
func (s *Store) DeleteHealthEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteHealthEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete health events before: %w", execErr)
	}
	return nil
}

func scanDecision(rows pgx.Rows) (DecisionRecord, error) {
	var (
		rec             DecisionRecord
		amountStr       string
		selected        sql.NullString
		dispatchOutcome sql.NullString
		candidates      json.RawMessage
		eliminated      json.RawMessage
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Sequence,
		&rec.TransactionID,
		&amountStr,
		&rec.Currency,
		&rec.Tier,
		&rec.Effort,
		&rec.Kind,
		&rec.Attempt,
		&rec.Outcome,
		&selected,
		&dispatchOutcome,
		&candidates,
		&eliminated,
		&rec.Excluded,
		&rec.DecidedAt,
		&rec.CreatedAt,
	); err != nil {
		return DecisionRecord{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("parse amount: %w", err)
	}
	rec.Amount = amount
	rec.Candidates = candidates
	rec.Eliminated = eliminated

	if selected.Valid {
		v := selected.String
		rec.Selected = &v
	}
	if dispatchOutcome.Valid {
		v := dispatchOutcome.String
		rec.DispatchOutcome = &v
	}
	return rec, nil
}

var (
	_ DecisionStore    = (*Store)(nil)
	_ AssessmentStore  = (*Store)(nil)
	_ HealthEventStore = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
