package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS routing_decisions (
    id               UUID PRIMARY KEY,
    sequence         BIGINT NOT NULL,
    transaction_id   TEXT NOT NULL,
    amount           NUMERIC NOT NULL,
    currency         CHAR(3) NOT NULL,
    tier             TEXT NOT NULL,
    effort           TEXT NOT NULL,
    kind             TEXT NOT NULL,
    attempt          INT NOT NULL,
    outcome          TEXT NOT NULL,
    selected         TEXT,
    dispatch_outcome TEXT,
    candidates       JSONB NOT NULL,
    eliminated       JSONB NOT NULL,
    excluded         TEXT[] NOT NULL DEFAULT '{}',
    decided_at       TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS routing_decisions_tx_idx ON routing_decisions (transaction_id);
CREATE INDEX IF NOT EXISTS routing_decisions_decided_idx ON routing_decisions (decided_at DESC);

CREATE TABLE IF NOT EXISTS risk_assessments (
    id                     UUID PRIMARY KEY,
    transaction_id         TEXT NOT NULL,
    score                  NUMERIC NOT NULL,
    tier                   TEXT NOT NULL,
    effort                 TEXT NOT NULL,
    amount_factor          NUMERIC NOT NULL,
    velocity_factor        NUMERIC NOT NULL,
    refund_rate_factor     NUMERIC NOT NULL,
    chargeback_rate_factor NUMERIC NOT NULL,
    volume_spike           BOOLEAN NOT NULL,
    breaches               TEXT[] NOT NULL DEFAULT '{}',
    rationale              TEXT NOT NULL,
    findings               TEXT NOT NULL DEFAULT '',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processor_health_events (
    id           BIGSERIAL PRIMARY KEY,
    processor_id TEXT NOT NULL,
    from_health  TEXT NOT NULL,
    to_health    TEXT NOT NULL,
    reason       TEXT NOT NULL,
    success_rate DOUBLE PRECISION,
    latency_ms   BIGINT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the audit tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
