// Package store is the append-only persistence for quality runs,
// contracts and escalations. Store is the PostgreSQL backend; BoltStore is
// the embedded single-node backend.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// Store provides access to the PostgreSQL database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS ai_systems (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	endpoint             TEXT,
	provider             TEXT,
	model                TEXT,
	credential_env       TEXT,
	approval_status      TEXT NOT NULL DEFAULT 'pending',
	required_assessments TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS system_assessments (
	id              BIGSERIAL PRIMARY KEY,
	system_id       TEXT NOT NULL REFERENCES ai_systems(id),
	assessment_type TEXT NOT NULL,
	status          TEXT NOT NULL,
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS quality_contracts (
	dataset_id TEXT NOT NULL,
	version    INT NOT NULL,
	body       JSONB NOT NULL,
	schedule   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dataset_id, version)
);

CREATE TABLE IF NOT EXISTS quality_runs (
	id            TEXT PRIMARY KEY,
	dataset_id    TEXT NOT NULL,
	run_type      TEXT NOT NULL,
	overall_score DOUBLE PRECISION NOT NULL,
	verdict       TEXT NOT NULL,
	evidence_hash TEXT NOT NULL,
	body          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS quality_runs_dataset_idx ON quality_runs (dataset_id, created_at);

CREATE TABLE IF NOT EXISTS contract_violations (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES quality_runs(id),
	type       TEXT NOT NULL,
	dimension  TEXT NOT NULL DEFAULT '',
	column_name TEXT NOT NULL DEFAULT '',
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	expected   TEXT NOT NULL DEFAULT '',
	observed   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS review_items (
	id              TEXT PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	source          TEXT NOT NULL,
	subject_id      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	priority        TEXT NOT NULL,
	status          TEXT NOT NULL,
	reason          TEXT NOT NULL,
	evidence        JSONB NOT NULL,
	sla_deadline    TIMESTAMPTZ NOT NULL,
	incident_id     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	acknowledged_at TIMESTAMPTZ,
	resolved_at     TIMESTAMPTZ,
	UNIQUE (source, correlation_id)
);

CREATE TABLE IF NOT EXISTS incidents (
	id              TEXT PRIMARY KEY,
	review_item_id  TEXT NOT NULL,
	correlation_id  TEXT NOT NULL,
	source          TEXT NOT NULL,
	subject_id      TEXT NOT NULL,
	title           TEXT NOT NULL,
	severity        TEXT NOT NULL,
	priority        TEXT NOT NULL,
	status          TEXT NOT NULL,
	evidence        JSONB NOT NULL,
	sla_deadline    TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	acknowledged_at TIMESTAMPTZ,
	resolved_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS provenance_edges (
	id               TEXT PRIMARY KEY,
	from_type        TEXT NOT NULL,
	from_id          TEXT NOT NULL,
	predicate        TEXT NOT NULL,
	to_type          TEXT NOT NULL,
	to_id            TEXT NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL,
	integrity_sha256 TEXT NOT NULL
);
`

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ErrExists is returned when an immutable record is written twice.
var ErrExists = errors.New("record already exists")
