package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/escalation"
	"github.com/triage-ai/warden/internal/quality"
)

type fakeEvaluator struct {
	res  *quality.Result
	err  error
	reqs []quality.Request
}

func (f *fakeEvaluator) Evaluate(_ context.Context, req quality.Request) (*quality.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type fakeReports struct {
	err error
}

func (f *fakeReports) PutReport(_ context.Context, run *quality.Run) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "reports/" + run.DatasetID + "/" + run.ID + ".json", nil
}

func qualityResult() *quality.Result {
	minOverall := quality.Ratio(0.8)
	return &quality.Result{
		Run: &quality.Run{
			ID:        "qrun-1",
			DatasetID: "ds",
			Verdict:   quality.VerdictPass,
			Overall:   0.95,
		},
		Contract: &quality.Contract{
			DatasetID:  "ds",
			Version:    2,
			Thresholds: map[quality.Dimension]quality.Ratio{quality.DimCompleteness: 0.9, quality.DimValidity: 0.9},
			MinOverall: &minOverall,
		},
	}
}

func runRequest(mode Mode) RunRequest {
	return RunRequest{DatasetID: "ds", RunID: "run-1", Mode: mode, RunType: quality.RunPipeline}
}

func TestQualityRunner_Streamed(t *testing.T) {
	feed := NewMemoryFeed()
	eval := &fakeEvaluator{res: qualityResult()}
	r := NewQualityRunner(eval, &fakeReports{}, feed, zap.NewNop())

	res, err := r.Launch(context.Background(), runRequest(ModeStreamed))
	require.NoError(t, err)
	assert.Nil(t, res)

	recs, err := feed.Latest(context.Background(), "ds")
	require.NoError(t, err)
	var kinds []RecordKind
	for _, rec := range recs {
		kinds = append(kinds, rec.Kind)
		assert.Equal(t, "run-1", rec.RunID)
	}
	assert.Equal(t, []RecordKind{
		KindProfile, KindRule, KindRule, KindRule, KindExecution, KindDashboardAsset, KindIssueReport,
	}, kinds)
	assert.Equal(t, "ds/v2/rule/completeness", recs[1].ID)
	assert.Equal(t, "ds/v2/rule/overall", recs[3].ID)
	assert.Equal(t, "reports/ds/qrun-1.json", recs[5].ID)

	s := Begin("ds", "run-1", ModeStreamed, "", t0)
	for _, rec := range recs {
		s = Reduce(s, rec)
	}
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, quality.RunPipeline, eval.reqs[0].RunType)
}

func TestQualityRunner_AtomicMatchesStreamed(t *testing.T) {
	now := func() time.Time { return t0 }

	feed := NewMemoryFeed()
	streamedRunner := NewQualityRunner(&fakeEvaluator{res: qualityResult()}, nil, feed, zap.NewNop())
	streamedRunner.now = now
	_, err := streamedRunner.Launch(context.Background(), runRequest(ModeStreamed))
	require.NoError(t, err)
	recs, err := feed.Latest(context.Background(), "ds")
	require.NoError(t, err)

	atomicRunner := NewQualityRunner(&fakeEvaluator{res: qualityResult()}, nil, nil, zap.NewNop())
	atomicRunner.now = now
	res, err := atomicRunner.Launch(context.Background(), runRequest(ModeAtomic))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, "quality_runs/qrun-1", res.DashboardAssetID)

	streamed := Begin("ds", "run-1", ModeStreamed, "", t0)
	for _, rec := range recs {
		streamed = Reduce(streamed, rec)
	}
	atomic := ApplyTerminal(Begin("ds", "run-1", ModeStreamed, "", t0), *res)
	assert.Equal(t, streamed, atomic)
}

func TestQualityRunner_NoContractUsesDefaultRule(t *testing.T) {
	res := qualityResult()
	res.Contract = nil
	r := NewQualityRunner(&fakeEvaluator{res: res}, nil, nil, zap.NewNop())

	out, err := r.Launch(context.Background(), runRequest(ModeAtomic))
	require.NoError(t, err)
	assert.Equal(t, []string{"ds/rule/overall"}, out.RuleIDs)
}

func TestQualityRunner_DataRequiredFailsProfiling(t *testing.T) {
	eval := &fakeEvaluator{err: apperr.DataRequired(quality.ErrDataRequired)}
	r := NewQualityRunner(eval, nil, nil, zap.NewNop())

	res, err := r.Launch(context.Background(), runRequest(ModeAtomic))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StepProfiling, res.FailedStep)
	assert.NotEmpty(t, res.Error)
}

func TestQualityRunner_ReportFailureFailsDashboard(t *testing.T) {
	r := NewQualityRunner(&fakeEvaluator{res: qualityResult()}, &fakeReports{err: errors.New("bucket gone")}, nil, zap.NewNop())

	res, err := r.Launch(context.Background(), runRequest(ModeAtomic))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StepDashboardGeneration, res.FailedStep)
	assert.Equal(t, "qrun-1", res.ExecutionID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Record) error { return errors.New("feed down") }

func TestQualityRunner_PublishError(t *testing.T) {
	r := NewQualityRunner(&fakeEvaluator{res: qualityResult()}, nil, failingPublisher{}, zap.NewNop())
	_, err := r.Launch(context.Background(), runRequest(ModeStreamed))
	assert.Error(t, err)
}

func TestFeedNotifier(t *testing.T) {
	feed := NewMemoryFeed()
	n := NewFeedNotifier(feed)
	ctx := context.Background()

	require.NoError(t, n.NotifyIncident(ctx, &escalation.Incident{
		ID: "inc-1", Source: escalation.SourceQuality, SubjectID: "ds", Status: escalation.StatusOpen,
	}))
	require.NoError(t, n.NotifyIncident(ctx, &escalation.Incident{
		ID: "inc-2", Source: escalation.SourceGateway, SubjectID: "sys-1", Status: escalation.StatusOpen,
	}))

	recs, err := feed.Latest(ctx, "ds")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, KindIncident, recs[0].Kind)
	assert.Equal(t, RecordOpen, recs[0].Status)

	gw, err := feed.Latest(ctx, "sys-1")
	require.NoError(t, err)
	assert.Empty(t, gw)
}
