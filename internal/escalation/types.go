package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicate is returned by a Repository when a review item with the
	// same source and correlation id already exists.
	ErrDuplicate = errors.New("review item already exists for correlation id")

	// ErrInvalidTransition is returned for any status change that is not
	// a forward move along open -> acknowledged -> resolved.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Severity of a review item or incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Priority is the incident queue priority derived from severity.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// PriorityFor maps critical to P0, high to P1 and everything else to P2.
func PriorityFor(s Severity) Priority {
	switch s {
	case SeverityCritical:
		return PriorityP0
	case SeverityHigh:
		return PriorityP1
	default:
		return PriorityP2
	}
}

// Status is the review lifecycle. It only moves forward.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 1
	case StatusAcknowledged:
		return 2
	case StatusResolved:
		return 3
	default:
		return 0
	}
}

// CheckTransition reports whether from -> to is allowed. A repeat of the
// current status is allowed and is a no-op for callers.
func CheckTransition(from, to Status) error {
	if to.rank() == 0 || from.rank() == 0 {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	if to.rank() < from.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Source identifies what raised a review item.
type Source string

const (
	SourceGateway Source = "gateway"
	SourceQuality Source = "quality"
)

// ReviewItem is a unit of human review. Records are append-only; only the
// status and its timestamps change after insert.
type ReviewItem struct {
	ID             string          `json:"id"`
	CorrelationID  string          `json:"correlation_id"`
	Source         Source          `json:"source"`
	SubjectID      string          `json:"subject_id"`
	Severity       Severity        `json:"severity"`
	Priority       Priority        `json:"priority"`
	Status         Status          `json:"status"`
	Reason         string          `json:"reason"`
	Evidence       json.RawMessage `json:"evidence"`
	SLADeadline    time.Time       `json:"sla_deadline"`
	IncidentID     string          `json:"incident_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Incident is raised alongside a critical review item.
type Incident struct {
	ID             string          `json:"id"`
	ReviewItemID   string          `json:"review_item_id"`
	CorrelationID  string          `json:"correlation_id"`
	Source         Source          `json:"source"`
	SubjectID      string          `json:"subject_id"`
	Title          string          `json:"title"`
	Severity       Severity        `json:"severity"`
	Priority       Priority        `json:"priority"`
	Status         Status          `json:"status"`
	Evidence       json.RawMessage `json:"evidence"`
	SLADeadline    time.Time       `json:"sla_deadline"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// ProvenanceEdge records that one entity led to another.
type ProvenanceEdge struct {
	ID            string    `json:"id"`
	FromType      string    `json:"from_type"`
	FromID        string    `json:"from_id"`
	Predicate     string    `json:"predicate"`
	ToType        string    `json:"to_type"`
	ToID          string    `json:"to_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	IntegrityHash string    `json:"integrity_sha256"`
}

// Repository is the append-only persistence the manager needs. Lookups
// return (nil, nil) when nothing matches.
type Repository interface {
	InsertReviewItem(ctx context.Context, item *ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*ReviewItem, error)
	GetReviewItemByCorrelation(ctx context.Context, source Source, correlationID string) (*ReviewItem, error)
	UpdateReviewItemStatus(ctx context.Context, id string, status Status, at time.Time) error

	InsertIncident(ctx context.Context, inc *Incident) error
	GetIncident(ctx context.Context, id string) (*Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status Status, at time.Time) error

	InsertProvenanceEdge(ctx context.Context, edge *ProvenanceEdge) error
}

// Notifier is told about incidents when they are created and whenever
// their status changes.
type Notifier interface {
	NotifyIncident(ctx context.Context, inc *Incident) error
}

// applyStatus sets status and the matching timestamp.
func applyStatus(status Status, at time.Time, ack, resolved **time.Time) {
	t := at
	switch status {
	case StatusAcknowledged:
		*ack = &t
	case StatusResolved:
		*resolved = &t
	}
}
