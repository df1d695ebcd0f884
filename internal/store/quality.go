package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/triage-ai/warden/internal/quality"
)

// InsertQualityRun appends a run and its contract violations in one
// transaction.
func (s *Store) InsertQualityRun(ctx context.Context, run *quality.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("InsertQualityRun: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertQualityRun: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quality_runs (id, dataset_id, run_type, overall_score, verdict, evidence_hash, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.DatasetID, string(run.RunType), float64(run.Overall), string(run.Verdict),
		run.Evidence.Hash, string(body), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertQualityRun: %w", err)
	}

	for _, v := range run.Violations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO contract_violations (run_id, type, dimension, column_name, severity, message, expected, observed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, string(v.Type), string(v.Dimension), v.Column, string(v.Severity), v.Message, v.Expected, v.Observed,
		)
		if err != nil {
			return fmt.Errorf("InsertQualityRun violation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertQualityRun: %w", err)
	}
	return nil
}

// GetQualityRun returns a run by id, or nil if not found.
func (s *Store) GetQualityRun(ctx context.Context, id string) (*quality.Run, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM quality_runs WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetQualityRun: %w", err)
	}
	var run quality.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("GetQualityRun: %w", err)
	}
	return &run, nil
}

// GetContract returns the newest contract version for a dataset, or nil
// if the dataset has none.
func (s *Store) GetContract(ctx context.Context, datasetID string) (*quality.Contract, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM quality_contracts
		WHERE dataset_id = $1
		ORDER BY version DESC
		LIMIT 1`, datasetID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetContract: %w", err)
	}
	return decodeContract(body)
}

// PutContract stores a new contract version. Versions are immutable; a
// repeated version is rejected.
func (s *Store) PutContract(ctx context.Context, c *quality.Contract) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("PutContract: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_contracts (dataset_id, version, body, schedule)
		VALUES ($1, $2, $3, $4)`,
		c.DatasetID, c.Version, string(body), c.Schedule,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("PutContract %s v%d: %w", c.DatasetID, c.Version, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("PutContract: %w", err)
	}
	return nil
}

// ScheduledContracts returns the newest version of every contract that
// carries a schedule.
func (s *Store) ScheduledContracts(ctx context.Context) ([]*quality.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (dataset_id) body, schedule
		FROM quality_contracts
		ORDER BY dataset_id, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("ScheduledContracts: %w", err)
	}
	defer rows.Close()

	var out []*quality.Contract
	for rows.Next() {
		var body []byte
		var schedule string
		if err := rows.Scan(&body, &schedule); err != nil {
			return nil, fmt.Errorf("ScheduledContracts: %w", err)
		}
		if schedule == "" {
			continue
		}
		c, err := decodeContract(body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeContract(body []byte) (*quality.Contract, error) {
	var c quality.Contract
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("decode contract: %w", err)
	}
	return &c, nil
}
