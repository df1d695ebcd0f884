package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/metrics"
)

var tracer = otel.Tracer("github.com/triage-ai/warden/internal/quality")

// RunStore persists runs and serves contracts. GetContract returns
// (nil, nil) when the dataset has no contract.
type RunStore interface {
	InsertQualityRun(ctx context.Context, run *Run) error
	GetContract(ctx context.Context, datasetID string) (*Contract, error)
}

// EscalationRef summarises the review item raised for a run.
type EscalationRef struct {
	ReviewItemID string    `json:"review_item_id"`
	IncidentID   string    `json:"incident_id,omitempty"`
	Severity     Severity  `json:"severity"`
	Priority     string    `json:"priority"`
	SLADeadline  time.Time `json:"sla_deadline"`
	Created      bool      `json:"created"`
}

// Escalator raises review items for runs with contract violations.
type Escalator interface {
	EscalateRun(ctx context.Context, run *Run) (*EscalationRef, error)
}

// Request is one quality evaluation.
type Request struct {
	DatasetID               string
	RunType                 RunType
	SampleData              []Row
	Schema                  Schema
	FreshnessThresholdHours float64
	LastUpdatedAt           *time.Time
	// CheckContract defaults to true.
	CheckContract *bool
}

// Result is a computed run plus what was done with it.
type Result struct {
	Run        *Run
	Contract   *Contract
	Escalation *EscalationRef
}

// Service resolves samples, computes runs, checks contracts and escalates
// violations.
type Service struct {
	source    SampleSource
	store     RunStore
	escalator Escalator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires a quality service. source, store and escalator may be
// nil: without a source only inline samples are accepted, without a store
// runs are not persisted and no contract is checked.
func NewService(source SampleSource, store RunStore, escalator Escalator, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		source:    source,
		store:     store,
		escalator: escalator,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate computes a run for the request. Persistence and escalation
// failures are logged; the computed run is still returned.
func (s *Service) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if req.DatasetID == "" {
		return nil, apperr.BadRequest("dataset_id is required")
	}

	ctx, span := tracer.Start(ctx, "quality.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", req.DatasetID))

	sample, err := ResolveSample(ctx, req.DatasetID, req.SampleData, s.source)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrDataRequired) {
			return nil, apperr.DataRequired(err)
		}
		return nil, apperr.DataRequired(fmt.Errorf("resolve sample: %w", err))
	}

	lastUpdated := req.LastUpdatedAt
	if lastUpdated == nil && !sample.LastModified.IsZero() {
		lm := sample.LastModified
		lastUpdated = &lm
	}

	run, err := Compute(Input{
		DatasetID:               req.DatasetID,
		RunType:                 req.RunType,
		Rows:                    sample.Rows,
		Schema:                  req.Schema,
		LastUpdated:             lastUpdated,
		FreshnessThresholdHours: req.FreshnessThresholdHours,
		Source:                  sample.Source,
	}, s.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.Internal(err)
	}
	run.ID = uuid.NewString()

	res := &Result{Run: run}

	if s.store != nil && (req.CheckContract == nil || *req.CheckContract) {
		contract, err := s.store.GetContract(ctx, req.DatasetID)
		if err != nil {
			s.logger.Error("load contract failed",
				zap.String("dataset_id", req.DatasetID),
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
		if contract != nil {
			res.Contract = contract
			run.Violations = CheckContractViolations(*contract, run.Dimensions, run.Overall,
				ObservedSchema(sample.Rows, req.Schema))
		}
	}

	if s.store != nil {
		if err := s.store.InsertQualityRun(ctx, run); err != nil {
			s.logger.Error("persist quality run failed",
				zap.String("dataset_id", req.DatasetID),
				zap.String("run_id", run.ID),
				zap.Error(apperr.Persistence(err)),
			)
		}
	}

	if len(run.Violations) > 0 && s.escalator != nil {
		ref, err := s.escalator.EscalateRun(ctx, run)
		if err != nil {
			s.logger.Error("escalate quality run failed",
				zap.String("dataset_id", req.DatasetID),
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
		res.Escalation = ref
	}

	span.SetAttributes(
		attribute.String("verdict", string(run.Verdict)),
		attribute.Float64("overall_score", float64(run.Overall)),
		attribute.Int("violations", len(run.Violations)),
	)
	s.metrics.ObserveQualityRun(req.DatasetID, string(run.RunType), string(run.Verdict), float64(run.Overall))

	s.logger.Info("quality run computed",
		zap.String("dataset_id", req.DatasetID),
		zap.String("run_id", run.ID),
		zap.String("verdict", string(run.Verdict)),
		zap.Float64("overall_score", float64(run.Overall)),
		zap.Int("sample_size", run.Evidence.SampleSize),
		zap.Int("violations", len(run.Violations)),
	)

	return res, nil
}
