package escalation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/engine"
	"github.com/triage-ai/warden/internal/metrics"
	"github.com/triage-ai/warden/internal/quality"
)

// maxEvidenceItems bounds the engine scores, details, violations and
// failing rows copied into review evidence.
const maxEvidenceItems = 5

// GatewaySLA is the review deadline for every gateway block.
const GatewaySLA = 4 * time.Hour

// QualitySLA returns the review deadline for a quality escalation.
func QualitySLA(s Severity) time.Duration {
	switch s {
	case SeverityCritical:
		return 4 * time.Hour
	case SeverityHigh:
		return 24 * time.Hour
	case SeverityMedium:
		return 72 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// BlockSeverity grades a gateway block by the most severe category among
// the engines that blocked: safety is critical, privacy and security are
// high, anything else is medium.
func BlockSeverity(scores []*engine.EngineScore) Severity {
	sev := SeverityMedium
	for _, s := range scores {
		if s == nil || s.Verdict != engine.VerdictBlock {
			continue
		}
		switch s.Category {
		case engine.CategorySafety:
			return SeverityCritical
		case engine.CategoryPrivacy, engine.CategorySecurity:
			sev = SeverityHigh
		}
	}
	return sev
}

// Options configures a Manager.
type Options struct {
	Notifiers        []Notifier
	RecordProvenance bool
	Metrics          *metrics.Metrics
}

// Manager turns gateway blocks and failing quality runs into review items,
// and critical ones into incidents.
type Manager struct {
	repo       Repository
	notifiers  []Notifier
	provenance bool
	metrics    *metrics.Metrics
	logger     *zap.Logger
	locks      keyedMutex

	now   func() time.Time
	newID func() string
}

func NewManager(repo Repository, logger *zap.Logger, opts Options) *Manager {
	return &Manager{
		repo:       repo,
		notifiers:  opts.Notifiers,
		provenance: opts.RecordProvenance,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// BlockEvent is a BLOCK verdict from one gateway phase.
type BlockEvent struct {
	TraceID  string
	SystemID string
	Phase    engine.Phase
	Combined engine.CombinedVerdict
	Scores   []*engine.EngineScore
}

// Outcome is the review item (and incident, if any) for an escalation.
// Created is false when the correlation id had already been escalated.
type Outcome struct {
	ReviewItem *ReviewItem
	Incident   *Incident
	Created    bool
}

type blockEvidence struct {
	TraceID            string                `json:"trace_id"`
	SystemID           string                `json:"system_id,omitempty"`
	Phase              string                `json:"phase"`
	Verdict            string                `json:"verdict"`
	ContributingEngine string                `json:"contributing_engine"`
	Details            []string              `json:"details,omitempty"`
	Scores             []*engine.EngineScore `json:"engine_scores"`
}

// EscalateBlock raises a review item for a gateway block. The trace id is
// the correlation id, so retries of the same request are deduplicated.
func (m *Manager) EscalateBlock(ctx context.Context, ev BlockEvent) (*Outcome, error) {
	if ev.TraceID == "" {
		return nil, apperr.BadRequest("block escalation requires a trace id")
	}
	sev := BlockSeverity(ev.Scores)
	reason := fmt.Sprintf("%s blocked on %s phase by %s", ev.TraceID, ev.Phase, ev.Combined.ContributingEngine)
	return m.raise(ctx, raiseParams{
		source:        SourceGateway,
		correlationID: ev.TraceID,
		subjectID:     ev.SystemID,
		severity:      sev,
		sla:           GatewaySLA,
		reason:        reason,
		title:         fmt.Sprintf("%s content blocked for system %s", ev.Combined.ContributingEngine, ev.SystemID),
		fromType:      "request",
		fromID:        ev.TraceID,
		evidence: blockEvidence{
			TraceID:            ev.TraceID,
			SystemID:           ev.SystemID,
			Phase:              ev.Phase.String(),
			Verdict:            ev.Combined.Verdict.String(),
			ContributingEngine: ev.Combined.ContributingEngine,
			Details:            bounded(ev.Combined.Details),
			Scores:             bounded(ev.Scores),
		},
	})
}

type runEvidence struct {
	RunID        string                      `json:"run_id"`
	DatasetID    string                      `json:"dataset_id"`
	Verdict      quality.Verdict             `json:"verdict"`
	Overall      quality.Ratio               `json:"overall_score"`
	EvidenceHash string                      `json:"evidence_hash"`
	Violations   []quality.ContractViolation `json:"contract_violations"`
	FailingRows  []quality.Row               `json:"failing_rows,omitempty"`
}

// EscalateRun raises a review item for a quality run with contract
// violations, graded by the worst violation. Runs without violations are
// not escalated.
func (m *Manager) EscalateRun(ctx context.Context, run *quality.Run) (*quality.EscalationRef, error) {
	if run == nil || len(run.Violations) == 0 {
		return nil, nil
	}
	sev := Severity(quality.MaxSeverity(run.Violations))
	out, err := m.raise(ctx, raiseParams{
		source:        SourceQuality,
		correlationID: run.ID,
		subjectID:     run.DatasetID,
		severity:      sev,
		sla:           QualitySLA(sev),
		reason:        fmt.Sprintf("%d contract violation(s) on dataset %s, worst %s", len(run.Violations), run.DatasetID, sev),
		title:         fmt.Sprintf("dataset %s failed its quality contract", run.DatasetID),
		fromType:      "quality_run",
		fromID:        run.ID,
		evidence: runEvidence{
			RunID:        run.ID,
			DatasetID:    run.DatasetID,
			Verdict:      run.Verdict,
			Overall:      run.Overall,
			EvidenceHash: run.Evidence.Hash,
			Violations:   bounded(run.Violations),
			FailingRows:  bounded(run.FailingRows),
		},
	})
	if err != nil {
		return nil, err
	}
	item := out.ReviewItem
	return &quality.EscalationRef{
		ReviewItemID: item.ID,
		IncidentID:   item.IncidentID,
		Severity:     quality.Severity(item.Severity),
		Priority:     string(item.Priority),
		SLADeadline:  item.SLADeadline,
		Created:      out.Created,
	}, nil
}

type raiseParams struct {
	source        Source
	correlationID string
	subjectID     string
	severity      Severity
	sla           time.Duration
	reason        string
	title         string
	fromType      string
	fromID        string
	evidence      any
}

func (m *Manager) raise(ctx context.Context, p raiseParams) (*Outcome, error) {
	unlock := m.locks.lock(string(p.source) + "/" + p.correlationID)
	defer unlock()

	existing, err := m.repo.GetReviewItemByCorrelation(ctx, p.source, p.correlationID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if existing != nil {
		return m.resume(ctx, existing, p)
	}

	evidence, err := json.Marshal(p.evidence)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("marshal evidence: %w", err))
	}
	now := m.now().UTC()
	item := &ReviewItem{
		ID:            m.newID(),
		CorrelationID: p.correlationID,
		Source:        p.source,
		SubjectID:     p.subjectID,
		Severity:      p.severity,
		Priority:      PriorityFor(p.severity),
		Status:        StatusOpen,
		Reason:        p.reason,
		Evidence:      evidence,
		SLADeadline:   now.Add(p.sla),
		CreatedAt:     now,
	}
	if p.severity == SeverityCritical {
		item.IncidentID = m.newID()
	}

	if err := m.repo.InsertReviewItem(ctx, item); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, apperr.Persistence(err)
		}
		// Another process won the insert.
		existing, err := m.repo.GetReviewItemByCorrelation(ctx, p.source, p.correlationID)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		if existing == nil {
			return nil, apperr.Persistence(fmt.Errorf("review item for %s vanished after duplicate insert", p.correlationID))
		}
		return m.resume(ctx, existing, p)
	}
	m.metrics.IncEscalation(string(p.source), string(p.severity))

	out := &Outcome{ReviewItem: item, Created: true}
	if item.IncidentID != "" {
		inc, err := m.openIncident(ctx, item, p)
		if err != nil {
			return nil, err
		}
		out.Incident = inc
	}

	m.logger.Info("escalated",
		zap.String("source", string(p.source)),
		zap.String("correlation_id", p.correlationID),
		zap.String("review_item_id", item.ID),
		zap.String("severity", string(item.Severity)),
		zap.String("incident_id", item.IncidentID),
	)
	return out, nil
}

// resume returns an existing escalation, creating its incident if an
// earlier attempt stored the review item but not the incident.
func (m *Manager) resume(ctx context.Context, item *ReviewItem, p raiseParams) (*Outcome, error) {
	out := &Outcome{ReviewItem: item}
	if item.IncidentID == "" {
		return out, nil
	}
	inc, err := m.repo.GetIncident(ctx, item.IncidentID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if inc == nil {
		if inc, err = m.openIncident(ctx, item, p); err != nil {
			return nil, err
		}
	}
	out.Incident = inc
	return out, nil
}

func (m *Manager) openIncident(ctx context.Context, item *ReviewItem, p raiseParams) (*Incident, error) {
	now := m.now().UTC()
	inc := &Incident{
		ID:            item.IncidentID,
		ReviewItemID:  item.ID,
		CorrelationID: item.CorrelationID,
		Source:        item.Source,
		SubjectID:     item.SubjectID,
		Title:         p.title,
		Severity:      item.Severity,
		Priority:      item.Priority,
		Status:        StatusOpen,
		Evidence:      item.Evidence,
		SLADeadline:   item.SLADeadline,
		CreatedAt:     now,
	}
	if err := m.repo.InsertIncident(ctx, inc); err != nil {
		return nil, apperr.Persistence(err)
	}

	if m.provenance {
		edge := &ProvenanceEdge{
			ID:         m.newID(),
			FromType:   p.fromType,
			FromID:     p.fromID,
			Predicate:  "escalated_to",
			ToType:     "incident",
			ToID:       inc.ID,
			OccurredAt: now,
		}
		edge.IntegrityHash = EdgeHash(edge)
		if err := m.repo.InsertProvenanceEdge(ctx, edge); err != nil {
			m.logger.Warn("provenance edge not recorded", zap.String("incident_id", inc.ID), zap.Error(err))
		}
	}

	m.notify(ctx, inc)
	return inc, nil
}

func (m *Manager) notify(ctx context.Context, inc *Incident) {
	for _, n := range m.notifiers {
		if err := n.NotifyIncident(ctx, inc); err != nil {
			m.logger.Warn("incident notification failed", zap.String("incident_id", inc.ID), zap.Error(err))
		}
	}
}

// AcknowledgeIncident moves an incident to acknowledged.
func (m *Manager) AcknowledgeIncident(ctx context.Context, id string) (*Incident, error) {
	return m.moveIncident(ctx, id, StatusAcknowledged)
}

// ResolveIncident moves an incident to resolved.
func (m *Manager) ResolveIncident(ctx context.Context, id string) (*Incident, error) {
	return m.moveIncident(ctx, id, StatusResolved)
}

func (m *Manager) moveIncident(ctx context.Context, id string, to Status) (*Incident, error) {
	unlock := m.locks.lock("incident/" + id)
	defer unlock()

	inc, err := m.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if inc == nil {
		return nil, apperr.NotFound("incident %s not found", id)
	}
	if err := CheckTransition(inc.Status, to); err != nil {
		return nil, apperr.Conflict(err)
	}
	if inc.Status == to {
		return inc, nil
	}

	now := m.now().UTC()
	if err := m.repo.UpdateIncidentStatus(ctx, id, to, now); err != nil {
		return nil, apperr.Persistence(err)
	}
	inc.Status = to
	applyStatus(to, now, &inc.AcknowledgedAt, &inc.ResolvedAt)
	m.notify(ctx, inc)
	return inc, nil
}

// AcknowledgeReviewItem moves a review item to acknowledged.
func (m *Manager) AcknowledgeReviewItem(ctx context.Context, id string) (*ReviewItem, error) {
	return m.moveReviewItem(ctx, id, StatusAcknowledged)
}

// ResolveReviewItem moves a review item to resolved.
func (m *Manager) ResolveReviewItem(ctx context.Context, id string) (*ReviewItem, error) {
	return m.moveReviewItem(ctx, id, StatusResolved)
}

func (m *Manager) moveReviewItem(ctx context.Context, id string, to Status) (*ReviewItem, error) {
	unlock := m.locks.lock("review/" + id)
	defer unlock()

	item, err := m.repo.GetReviewItem(ctx, id)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	if item == nil {
		return nil, apperr.NotFound("review item %s not found", id)
	}
	if err := CheckTransition(item.Status, to); err != nil {
		return nil, apperr.Conflict(err)
	}
	if item.Status == to {
		return item, nil
	}

	now := m.now().UTC()
	if err := m.repo.UpdateReviewItemStatus(ctx, id, to, now); err != nil {
		return nil, apperr.Persistence(err)
	}
	item.Status = to
	applyStatus(to, now, &item.AcknowledgedAt, &item.ResolvedAt)
	return item, nil
}

// EdgeHash is the SHA-256 over an edge's endpoints, predicate and time.
func EdgeHash(e *ProvenanceEdge) string {
	payload := struct {
		FromType   string `json:"from_type"`
		FromID     string `json:"from_id"`
		Predicate  string `json:"predicate"`
		ToType     string `json:"to_type"`
		ToID       string `json:"to_id"`
		OccurredAt string `json:"occurred_at"`
	}{e.FromType, e.FromID, e.Predicate, e.ToType, e.ToID, e.OccurredAt.UTC().Format(time.RFC3339Nano)}
	// Marshalling a struct of strings cannot fail.
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func bounded[T any](s []T) []T {
	if len(s) > maxEvidenceItems {
		return s[:maxEvidenceItems]
	}
	return s
}
