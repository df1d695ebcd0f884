package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/warden/internal/escalation"
)

const reviewItemColumns = `id, correlation_id, source, subject_id, severity, priority, status, reason,
	evidence, sla_deadline, incident_id, created_at, acknowledged_at, resolved_at`

const incidentColumns = `id, review_item_id, correlation_id, source, subject_id, title, severity, priority,
	status, evidence, sla_deadline, created_at, acknowledged_at, resolved_at`

// InsertReviewItem appends a review item. A second item for the same
// (source, correlation id) fails with escalation.ErrDuplicate.
func (s *Store) InsertReviewItem(ctx context.Context, item *escalation.ReviewItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_items (`+reviewItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		item.ID, item.CorrelationID, string(item.Source), item.SubjectID,
		string(item.Severity), string(item.Priority), string(item.Status), item.Reason,
		string(item.Evidence), item.SLADeadline, item.IncidentID, item.CreatedAt,
		item.AcknowledgedAt, item.ResolvedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("InsertReviewItem %s: %w", item.CorrelationID, escalation.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("InsertReviewItem: %w", err)
	}
	return nil
}

// GetReviewItem returns a review item by id, or nil if not found.
func (s *Store) GetReviewItem(ctx context.Context, id string) (*escalation.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewItemColumns+` FROM review_items WHERE id = $1`, id)
	item, err := scanReviewItem(row)
	if err != nil {
		return nil, fmt.Errorf("GetReviewItem: %w", err)
	}
	return item, nil
}

// GetReviewItemByCorrelation returns the review item raised for a
// correlation id, or nil if there is none.
func (s *Store) GetReviewItemByCorrelation(ctx context.Context, source escalation.Source, correlationID string) (*escalation.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reviewItemColumns+` FROM review_items
		WHERE source = $1 AND correlation_id = $2`, string(source), correlationID)
	item, err := scanReviewItem(row)
	if err != nil {
		return nil, fmt.Errorf("GetReviewItemByCorrelation: %w", err)
	}
	return item, nil
}

// UpdateReviewItemStatus moves a review item and stamps the matching
// timestamp column. Nothing else on the row is writable.
func (s *Store) UpdateReviewItemStatus(ctx context.Context, id string, status escalation.Status, at time.Time) error {
	return s.updateStatus(ctx, "review_items", id, status, at)
}

// InsertIncident appends an incident.
func (s *Store) InsertIncident(ctx context.Context, inc *escalation.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inc.ID, inc.ReviewItemID, inc.CorrelationID, string(inc.Source), inc.SubjectID, inc.Title,
		string(inc.Severity), string(inc.Priority), string(inc.Status), string(inc.Evidence),
		inc.SLADeadline, inc.CreatedAt, inc.AcknowledgedAt, inc.ResolvedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("InsertIncident %s: %w", inc.ID, escalation.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("InsertIncident: %w", err)
	}
	return nil
}

// GetIncident returns an incident by id, or nil if not found.
func (s *Store) GetIncident(ctx context.Context, id string) (*escalation.Incident, error) {
	var (
		inc                     escalation.Incident
		source, sev, prio, stat string
		evidence                []byte
		ack, resolved           sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id).Scan(
		&inc.ID, &inc.ReviewItemID, &inc.CorrelationID, &source, &inc.SubjectID, &inc.Title,
		&sev, &prio, &stat, &evidence, &inc.SLADeadline, &inc.CreatedAt, &ack, &resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetIncident: %w", err)
	}
	inc.Source = escalation.Source(source)
	inc.Severity = escalation.Severity(sev)
	inc.Priority = escalation.Priority(prio)
	inc.Status = escalation.Status(stat)
	inc.Evidence = evidence
	inc.AcknowledgedAt = nullTime(ack)
	inc.ResolvedAt = nullTime(resolved)
	return &inc, nil
}

// UpdateIncidentStatus moves an incident and stamps the matching timestamp.
func (s *Store) UpdateIncidentStatus(ctx context.Context, id string, status escalation.Status, at time.Time) error {
	return s.updateStatus(ctx, "incidents", id, status, at)
}

// InsertProvenanceEdge appends a lineage edge.
func (s *Store) InsertProvenanceEdge(ctx context.Context, e *escalation.ProvenanceEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provenance_edges (id, from_type, from_id, predicate, to_type, to_id, occurred_at, integrity_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.FromType, e.FromID, e.Predicate, e.ToType, e.ToID, e.OccurredAt, e.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("InsertProvenanceEdge: %w", err)
	}
	return nil
}

// statusColumn is the timestamp stamped by a move into status.
func statusColumn(status escalation.Status) (string, error) {
	switch status {
	case escalation.StatusAcknowledged:
		return "acknowledged_at", nil
	case escalation.StatusResolved:
		return "resolved_at", nil
	default:
		return "", fmt.Errorf("status %q: %w", status, escalation.ErrInvalidTransition)
	}
}

func (s *Store) updateStatus(ctx context.Context, table, id string, status escalation.Status, at time.Time) error {
	col, err := statusColumn(status)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $1, %s = $2 WHERE id = $3`, table, col)
	res, err := s.db.ExecContext(ctx, query, string(status), at, id)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s status %s: %w", table, id, sql.ErrNoRows)
	}
	return nil
}

func scanReviewItem(row *sql.Row) (*escalation.ReviewItem, error) {
	var (
		item                    escalation.ReviewItem
		source, sev, prio, stat string
		evidence                []byte
		ack, resolved           sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.CorrelationID, &source, &item.SubjectID, &sev, &prio, &stat, &item.Reason,
		&evidence, &item.SLADeadline, &item.IncidentID, &item.CreatedAt, &ack, &resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Source = escalation.Source(source)
	item.Severity = escalation.Severity(sev)
	item.Priority = escalation.Priority(prio)
	item.Status = escalation.Status(stat)
	item.Evidence = evidence
	item.AcknowledgedAt = nullTime(ack)
	item.ResolvedAt = nullTime(resolved)
	return &item, nil
}
