package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/engine"
	"github.com/triage-ai/warden/internal/quality"
)

type memRepo struct {
	mu        sync.Mutex
	items     map[string]*ReviewItem
	incidents map[string]*Incident
	edges     []*ProvenanceEdge

	failIncident error
	inserts      int
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[string]*ReviewItem{}, incidents: map[string]*Incident{}}
}

func (r *memRepo) InsertReviewItem(_ context.Context, item *ReviewItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.Source == item.Source && it.CorrelationID == item.CorrelationID {
			return ErrDuplicate
		}
	}
	cp := *item
	r.items[item.ID] = &cp
	r.inserts++
	return nil
}

func (r *memRepo) GetReviewItem(_ context.Context, id string) (*ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.items[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) GetReviewItemByCorrelation(_ context.Context, source Source, correlationID string) (*ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.Source == source && it.CorrelationID == correlationID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) UpdateReviewItemStatus(_ context.Context, id string, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.items[id]
	it.Status = status
	applyStatus(status, at, &it.AcknowledgedAt, &it.ResolvedAt)
	return nil
}

func (r *memRepo) InsertIncident(_ context.Context, inc *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failIncident != nil {
		return r.failIncident
	}
	cp := *inc
	r.incidents[inc.ID] = &cp
	return nil
}

func (r *memRepo) GetIncident(_ context.Context, id string) (*Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inc, ok := r.incidents[id]; ok {
		cp := *inc
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) UpdateIncidentStatus(_ context.Context, id string, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc := r.incidents[id]
	inc.Status = status
	applyStatus(status, at, &inc.AcknowledgedAt, &inc.ResolvedAt)
	return nil
}

func (r *memRepo) InsertProvenanceEdge(_ context.Context, e *ProvenanceEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, e)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []Incident
}

func (n *recordingNotifier) NotifyIncident(_ context.Context, inc *Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, *inc)
	return nil
}

var testNow = time.Unix(1700000000, 0).UTC()

func newTestManager(repo Repository, notifiers ...Notifier) *Manager {
	m := NewManager(repo, zap.NewNop(), Options{Notifiers: notifiers, RecordProvenance: true})
	m.now = func() time.Time { return testNow }
	n := 0
	var mu sync.Mutex
	m.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return m
}

func blockEvent(traceID string, cat engine.Category, name string) BlockEvent {
	scores := []*engine.EngineScore{
		{Engine: "privacy", Category: engine.CategoryPrivacy, Verdict: engine.VerdictAllow},
		{Engine: name, Category: cat, Verdict: engine.VerdictBlock, Details: "matched"},
	}
	return BlockEvent{
		TraceID:  traceID,
		SystemID: "sys-1",
		Phase:    engine.PhaseInput,
		Combined: engine.Combine(scores),
		Scores:   scores,
	}
}

func TestBlockSeverity(t *testing.T) {
	tests := []struct {
		cat  engine.Category
		want Severity
	}{
		{engine.CategorySafety, SeverityCritical},
		{engine.CategorySecurity, SeverityHigh},
		{engine.CategoryPrivacy, SeverityHigh},
		{engine.CategoryUnspecified, SeverityMedium},
	}
	for _, tt := range tests {
		ev := blockEvent("t", tt.cat, "x")
		assert.Equal(t, tt.want, BlockSeverity(ev.Scores), tt.cat.String())
	}
}

func score(name string, cat engine.Category, v engine.Verdict) *engine.EngineScore {
	return &engine.EngineScore{Engine: name, Category: cat, Verdict: v}
}

func TestBlockSeverity_MultipleEngines(t *testing.T) {
	tests := []struct {
		name   string
		scores []*engine.EngineScore
		want   Severity
	}{
		{
			name: "privacy and safety block",
			scores: []*engine.EngineScore{
				score("privacy", engine.CategoryPrivacy, engine.VerdictBlock),
				score("safety", engine.CategorySafety, engine.VerdictBlock),
				score("security", engine.CategorySecurity, engine.VerdictAllow),
			},
			want: SeverityCritical,
		},
		{
			name: "privacy and security block",
			scores: []*engine.EngineScore{
				score("privacy", engine.CategoryPrivacy, engine.VerdictBlock),
				score("safety", engine.CategorySafety, engine.VerdictAllow),
				score("security", engine.CategorySecurity, engine.VerdictBlock),
			},
			want: SeverityHigh,
		},
		{
			name: "safety only warns",
			scores: []*engine.EngineScore{
				score("privacy", engine.CategoryPrivacy, engine.VerdictBlock),
				score("safety", engine.CategorySafety, engine.VerdictWarn),
			},
			want: SeverityHigh,
		},
		{
			name:   "nil scores",
			scores: []*engine.EngineScore{nil, score("privacy", engine.CategoryPrivacy, engine.VerdictAllow)},
			want:   SeverityMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlockSeverity(tt.scores))
		})
	}
}

func TestEscalateBlock_SafetyBehindPrivacyOpensIncident(t *testing.T) {
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	m := newTestManager(repo, notifier)

	scores := []*engine.EngineScore{
		score("privacy", engine.CategoryPrivacy, engine.VerdictBlock),
		score("safety", engine.CategorySafety, engine.VerdictBlock),
		score("security", engine.CategorySecurity, engine.VerdictAllow),
	}
	combined := engine.Combine(scores)
	require.Equal(t, "privacy", combined.ContributingEngine)

	out, err := m.EscalateBlock(context.Background(), BlockEvent{
		TraceID:  "trace-mixed",
		SystemID: "sys-1",
		Phase:    engine.PhaseInput,
		Combined: combined,
		Scores:   scores,
	})
	require.NoError(t, err)

	assert.Equal(t, SeverityCritical, out.ReviewItem.Severity)
	assert.Equal(t, PriorityP0, out.ReviewItem.Priority)
	require.NotNil(t, out.Incident)
	assert.Len(t, repo.incidents, 1)
	assert.Len(t, notifier.seen, 1)
}

func TestEscalateBlock_SecurityHigh(t *testing.T) {
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	m := newTestManager(repo, notifier)

	out, err := m.EscalateBlock(context.Background(), blockEvent("trace-1", engine.CategorySecurity, "security"))
	require.NoError(t, err)
	require.True(t, out.Created)

	item := out.ReviewItem
	assert.Equal(t, SeverityHigh, item.Severity)
	assert.Equal(t, PriorityP1, item.Priority)
	assert.Equal(t, StatusOpen, item.Status)
	assert.Equal(t, testNow.Add(4*time.Hour), item.SLADeadline)
	assert.Empty(t, item.IncidentID)
	assert.Nil(t, out.Incident)
	assert.Empty(t, notifier.seen)
	assert.Empty(t, repo.edges)

	var ev blockEvidence
	require.NoError(t, json.Unmarshal(item.Evidence, &ev))
	assert.Equal(t, "input", ev.Phase)
	assert.Equal(t, "BLOCK", ev.Verdict)
	assert.Equal(t, "security", ev.ContributingEngine)
}

func TestEscalateBlock_SafetyOpensIncident(t *testing.T) {
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	m := newTestManager(repo, notifier)

	out, err := m.EscalateBlock(context.Background(), blockEvent("trace-2", engine.CategorySafety, "safety"))
	require.NoError(t, err)

	require.NotNil(t, out.Incident)
	assert.Equal(t, SeverityCritical, out.ReviewItem.Severity)
	assert.Equal(t, PriorityP0, out.Incident.Priority)
	assert.Equal(t, out.ReviewItem.IncidentID, out.Incident.ID)
	assert.Equal(t, out.ReviewItem.ID, out.Incident.ReviewItemID)

	require.Len(t, repo.edges, 1)
	edge := repo.edges[0]
	assert.Equal(t, "request", edge.FromType)
	assert.Equal(t, "trace-2", edge.FromID)
	assert.Equal(t, out.Incident.ID, edge.ToID)
	assert.Equal(t, EdgeHash(edge), edge.IntegrityHash)

	require.Len(t, notifier.seen, 1)
	assert.Equal(t, StatusOpen, notifier.seen[0].Status)
}

func TestEscalateBlock_Dedupe(t *testing.T) {
	repo := newMemRepo()
	m := newTestManager(repo)
	ev := blockEvent("trace-3", engine.CategorySafety, "safety")

	var wg sync.WaitGroup
	outs := make([]*Outcome, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.EscalateBlock(context.Background(), ev)
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, repo.inserts)
	assert.Len(t, repo.incidents, 1)
	created := 0
	for _, o := range outs {
		require.NotNil(t, o)
		assert.Equal(t, outs[0].ReviewItem.ID, o.ReviewItem.ID)
		if o.Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestEscalateBlock_RepairsMissingIncident(t *testing.T) {
	repo := newMemRepo()
	repo.failIncident = errors.New("disk full")
	m := newTestManager(repo)
	ev := blockEvent("trace-4", engine.CategorySafety, "safety")

	_, err := m.EscalateBlock(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	repo.failIncident = nil
	out, err := m.EscalateBlock(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, out.Created)
	require.NotNil(t, out.Incident)
	assert.Equal(t, out.ReviewItem.IncidentID, out.Incident.ID)
}

func TestEscalateBlock_RequiresTraceID(t *testing.T) {
	m := newTestManager(newMemRepo())
	_, err := m.EscalateBlock(context.Background(), BlockEvent{})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestEscalateRun(t *testing.T) {
	repo := newMemRepo()
	m := newTestManager(repo)

	run := &quality.Run{
		ID:        "run-1",
		DatasetID: "customers",
		Verdict:   quality.VerdictWarn,
		Violations: []quality.ContractViolation{
			{Type: quality.ViolationBelowThreshold, Dimension: quality.DimUniqueness, Severity: quality.SeverityMedium},
		},
	}
	for i := 0; i < 8; i++ {
		run.FailingRows = append(run.FailingRows, quality.Row{"i": i})
	}

	ref, err := m.EscalateRun(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, ref.Created)
	assert.Equal(t, quality.SeverityMedium, ref.Severity)
	assert.Equal(t, "P2", ref.Priority)
	assert.Equal(t, testNow.Add(72*time.Hour), ref.SLADeadline)
	assert.Empty(t, ref.IncidentID)

	item, err := repo.GetReviewItem(context.Background(), ref.ReviewItemID)
	require.NoError(t, err)
	var ev runEvidence
	require.NoError(t, json.Unmarshal(item.Evidence, &ev))
	assert.Len(t, ev.FailingRows, maxEvidenceItems)

	again, err := m.EscalateRun(context.Background(), run)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, ref.ReviewItemID, again.ReviewItemID)
}

func TestEscalateRun_NoViolations(t *testing.T) {
	m := newTestManager(newMemRepo())
	ref, err := m.EscalateRun(context.Background(), &quality.Run{ID: "r"})
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestQualitySLA(t *testing.T) {
	assert.Equal(t, 4*time.Hour, QualitySLA(SeverityCritical))
	assert.Equal(t, 24*time.Hour, QualitySLA(SeverityHigh))
	assert.Equal(t, 72*time.Hour, QualitySLA(SeverityMedium))
	assert.Equal(t, 168*time.Hour, QualitySLA(SeverityLow))
}

func TestIncidentTransitions(t *testing.T) {
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	m := newTestManager(repo, notifier)
	ctx := context.Background()

	out, err := m.EscalateBlock(ctx, blockEvent("trace-5", engine.CategorySafety, "safety"))
	require.NoError(t, err)
	id := out.Incident.ID

	inc, err := m.AcknowledgeIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, inc.Status)
	require.NotNil(t, inc.AcknowledgedAt)

	// Repeating the current status is a no-op.
	inc, err = m.AcknowledgeIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, inc.Status)

	inc, err = m.ResolveIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, inc.Status)
	require.NotNil(t, inc.ResolvedAt)

	_, err = m.AcknowledgeIncident(ctx, id)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// open, acknowledged, resolved
	assert.Len(t, notifier.seen, 3)

	_, err = m.ResolveIncident(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReviewItemOpenToResolved(t *testing.T) {
	m := newTestManager(newMemRepo())
	ctx := context.Background()

	out, err := m.EscalateBlock(ctx, blockEvent("trace-6", engine.CategoryPrivacy, "privacy"))
	require.NoError(t, err)

	item, err := m.ResolveReviewItem(ctx, out.ReviewItem.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, item.Status)
	assert.Nil(t, item.AcknowledgedAt)

	_, err = m.AcknowledgeReviewItem(ctx, out.ReviewItem.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusOpen, StatusOpen, true},
		{StatusOpen, StatusAcknowledged, true},
		{StatusOpen, StatusResolved, true},
		{StatusAcknowledged, StatusResolved, true},
		{StatusAcknowledged, StatusOpen, false},
		{StatusResolved, StatusOpen, false},
		{StatusResolved, StatusAcknowledged, false},
		{StatusOpen, Status("closed"), false},
	}
	for _, tt := range tests {
		err := CheckTransition(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tt.from, tt.to)
		}
	}
}
