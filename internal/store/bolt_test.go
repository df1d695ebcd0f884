package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-ai/warden/internal/escalation"
	"github.com/triage-ai/warden/internal/quality"
	"github.com/triage-ai/warden/internal/scheduler"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestBoltStore_QualityRuns(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	run := &quality.Run{
		ID:        "run-1",
		DatasetID: "ds",
		RunType:   quality.RunManual,
		Overall:   0.92,
		Verdict:   quality.VerdictPass,
		Evidence:  quality.Evidence{Hash: "abc", Timestamp: t0, SampleSize: 10},
		CreatedAt: t0,
	}
	require.NoError(t, s.InsertQualityRun(ctx, run))
	assert.ErrorIs(t, s.InsertQualityRun(ctx, run), ErrExists)

	got, err := s.GetQualityRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ds", got.DatasetID)
	assert.Equal(t, quality.VerdictPass, got.Verdict)
	assert.Equal(t, "abc", got.Evidence.Hash)

	missing, err := s.GetQualityRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBoltStore_ContractsNewestVersionWins(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	none, err := s.GetContract(ctx, "ds")
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, c := range []*quality.Contract{
		{DatasetID: "ds", Version: 2, Schedule: "@hourly"},
		{DatasetID: "ds", Version: 10},
		{DatasetID: "ds-other", Version: 1, Schedule: "@daily"},
		{DatasetID: "ds-old", Version: 1, Schedule: "@daily"},
		{DatasetID: "ds-old", Version: 2},
	} {
		require.NoError(t, s.PutContract(ctx, c))
	}
	assert.ErrorIs(t, s.PutContract(ctx, &quality.Contract{DatasetID: "ds", Version: 2}), ErrExists)

	got, err := s.GetContract(ctx, "ds")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Version)

	scheduled, err := s.ScheduledContracts(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "ds-other", scheduled[0].DatasetID)
}

func reviewItem(id, corr string) *escalation.ReviewItem {
	return &escalation.ReviewItem{
		ID:            id,
		CorrelationID: corr,
		Source:        escalation.SourceGateway,
		SubjectID:     "sys-1",
		Severity:      escalation.SeverityHigh,
		Priority:      escalation.PriorityP1,
		Status:        escalation.StatusOpen,
		Evidence:      json.RawMessage(`{"engine":"security"}`),
		SLADeadline:   t0.Add(4 * time.Hour),
		CreatedAt:     t0,
	}
}

func TestBoltStore_ReviewItems(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReviewItem(ctx, reviewItem("ri-1", "trace-1")))
	assert.ErrorIs(t, s.InsertReviewItem(ctx, reviewItem("ri-2", "trace-1")), escalation.ErrDuplicate)

	// Same correlation id from another source is a different escalation.
	other := reviewItem("ri-3", "trace-1")
	other.Source = escalation.SourceQuality
	require.NoError(t, s.InsertReviewItem(ctx, other))

	got, err := s.GetReviewItemByCorrelation(ctx, escalation.SourceGateway, "trace-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ri-1", got.ID)
	assert.JSONEq(t, `{"engine":"security"}`, string(got.Evidence))

	none, err := s.GetReviewItemByCorrelation(ctx, escalation.SourceGateway, "trace-2")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.UpdateReviewItemStatus(ctx, "ri-1", escalation.StatusAcknowledged, t0.Add(time.Minute)))
	got, err = s.GetReviewItem(ctx, "ri-1")
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, got.AcknowledgedAt.Equal(t0.Add(time.Minute)))
	assert.Nil(t, got.ResolvedAt)

	assert.ErrorIs(t, s.UpdateReviewItemStatus(ctx, "ri-1", escalation.StatusOpen, t0), escalation.ErrInvalidTransition)
	assert.Error(t, s.UpdateReviewItemStatus(ctx, "missing", escalation.StatusResolved, t0))
}

func TestBoltStore_IncidentsAndEdges(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	inc := &escalation.Incident{
		ID:           "inc-1",
		ReviewItemID: "ri-1",
		Source:       escalation.SourceGateway,
		Severity:     escalation.SeverityCritical,
		Priority:     escalation.PriorityP0,
		Status:       escalation.StatusOpen,
		Evidence:     json.RawMessage(`{}`),
		CreatedAt:    t0,
	}
	require.NoError(t, s.InsertIncident(ctx, inc))
	assert.ErrorIs(t, s.InsertIncident(ctx, inc), escalation.ErrDuplicate)

	require.NoError(t, s.UpdateIncidentStatus(ctx, "inc-1", escalation.StatusResolved, t0.Add(time.Hour)))
	got, err := s.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	edge := &escalation.ProvenanceEdge{
		ID: "e-1", FromType: "request", FromID: "trace-1", Predicate: "escalated_to",
		ToType: "incident", ToID: "inc-1", OccurredAt: t0,
	}
	edge.IntegrityHash = escalation.EdgeHash(edge)
	require.NoError(t, s.InsertProvenanceEdge(ctx, edge))

	edges, err := s.ProvenanceEdges(ctx, "incident", "inc-1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, edge.IntegrityHash, escalation.EdgeHash(edges[0]))
}

func TestStoresImplementInterfaces(t *testing.T) {
	var _ escalation.Repository = (*BoltStore)(nil)
	var _ quality.RunStore = (*BoltStore)(nil)
	var _ escalation.Repository = (*Store)(nil)
	var _ quality.RunStore = (*Store)(nil)
	var _ scheduler.ContractSource = (*BoltStore)(nil)
	var _ scheduler.ContractSource = (*Store)(nil)
}
