package quality

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
)

type memRunStore struct {
	mu        sync.Mutex
	runs      []*Run
	contracts map[string]*Contract
	insertErr error
}

func (m *memRunStore) InsertQualityRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRunStore) GetContract(_ context.Context, datasetID string) (*Contract, error) {
	return m.contracts[datasetID], nil
}

type recordingEscalator struct {
	runs []*Run
}

func (r *recordingEscalator) EscalateRun(_ context.Context, run *Run) (*EscalationRef, error) {
	r.runs = append(r.runs, run)
	return &EscalationRef{ReviewItemID: "rev-1", Severity: MaxSeverity(run.Violations), Created: true}, nil
}

func newTestService(src SampleSource, store RunStore, esc Escalator) *Service {
	s := NewService(src, store, esc, nil, zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return s
}

func TestService_DataRequired(t *testing.T) {
	s := newTestService(nil, nil, nil)
	_, err := s.Evaluate(context.Background(), Request{DatasetID: "ds"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDataRequired, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrDataRequired)
}

func TestService_BadRequest(t *testing.T) {
	s := newTestService(nil, nil, nil)
	_, err := s.Evaluate(context.Background(), Request{})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestService_EmptySampleFails(t *testing.T) {
	s := newTestService(nil, nil, nil)
	res, err := s.Evaluate(context.Background(), Request{DatasetID: "ds", SampleData: []Row{}})
	require.NoError(t, err)
	assert.Equal(t, Ratio(0), res.Run.Overall)
	assert.Equal(t, VerdictFail, res.Run.Verdict)
	assert.Equal(t, 0, res.Run.Evidence.SampleSize)
}

func TestService_PassNoContract(t *testing.T) {
	store := &memRunStore{}
	esc := &recordingEscalator{}
	s := newTestService(nil, store, esc)

	updated := time.Unix(1700000000, 0).UTC().Add(-time.Hour)
	res, err := s.Evaluate(context.Background(), Request{
		DatasetID:     "ds",
		SampleData:    hundredRows(0),
		LastUpdatedAt: &updated,
	})
	require.NoError(t, err)

	run := res.Run
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, VerdictPass, run.Verdict)
	assert.True(t, VerifyEvidence(run.Evidence.Hash, run.Dimensions, run.Evidence.Timestamp))
	assert.Equal(t, "inline", run.Evidence.Source)
	require.Len(t, store.runs, 1)
	assert.Empty(t, esc.runs)
	assert.Nil(t, res.Escalation)
}

func TestService_ViolationsEscalate(t *testing.T) {
	store := &memRunStore{contracts: map[string]*Contract{
		"ds": {
			DatasetID:       "ds",
			Thresholds:      map[Dimension]Ratio{DimCompleteness: 0.99},
			ExpectedColumns: map[string]ColumnType{"ssn_hash": TypeString},
		},
	}}
	esc := &recordingEscalator{}
	s := newTestService(nil, store, esc)

	res, err := s.Evaluate(context.Background(), Request{DatasetID: "ds", SampleData: hundredRows(10)})
	require.NoError(t, err)

	require.NotNil(t, res.Contract)
	require.Len(t, res.Run.Violations, 2)
	require.Len(t, esc.runs, 1)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, SeverityCritical, res.Escalation.Severity)
}

func TestService_ContractCheckCanBeSkipped(t *testing.T) {
	store := &memRunStore{contracts: map[string]*Contract{
		"ds": {DatasetID: "ds", Thresholds: map[Dimension]Ratio{DimCompleteness: 0.99}},
	}}
	s := newTestService(nil, store, &recordingEscalator{})
	skip := false

	res, err := s.Evaluate(context.Background(), Request{DatasetID: "ds", SampleData: hundredRows(10), CheckContract: &skip})
	require.NoError(t, err)
	assert.Nil(t, res.Contract)
	assert.Empty(t, res.Run.Violations)
}

func TestService_PersistenceFailureNotFatal(t *testing.T) {
	store := &memRunStore{insertErr: errors.New("connection refused")}
	s := newTestService(nil, store, nil)

	res, err := s.Evaluate(context.Background(), Request{DatasetID: "ds", SampleData: hundredRows(0)})
	require.NoError(t, err)
	assert.NotNil(t, res.Run)
}

func TestService_StoredSampleFreshness(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	src := &fakeSource{sample: &Sample{
		Rows:         hundredRows(0),
		Source:       "s3://bucket/datasets/ds/sample.csv",
		LastModified: now.Add(-48 * time.Hour),
	}}
	s := newTestService(src, nil, nil)

	res, err := s.Evaluate(context.Background(), Request{DatasetID: "ds"})
	require.NoError(t, err)
	fresh := res.Run.Dimensions[DimFreshness]
	assert.True(t, fresh.Computed)
	assert.Equal(t, Ratio(0), fresh.Score)
	assert.Equal(t, "s3://bucket/datasets/ds/sample.csv", res.Run.Evidence.Source)
}
