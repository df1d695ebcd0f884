package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/quality"
)

// Evaluator runs one quality evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req quality.Request) (*quality.Result, error)
}

// ReportSink stores the dashboard report for a run and returns its key.
type ReportSink interface {
	PutReport(ctx context.Context, run *quality.Run) (string, error)
}

// Publisher accepts records; every Feed is one.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// QualityRunner executes the five pipeline steps in-process on top of the
// quality service.
type QualityRunner struct {
	eval    Evaluator
	reports ReportSink
	pub     Publisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewQualityRunner builds a runner. reports may be nil, in which case the
// persisted run itself is the dashboard asset.
func NewQualityRunner(eval Evaluator, reports ReportSink, pub Publisher, logger *zap.Logger) *QualityRunner {
	return &QualityRunner{eval: eval, reports: reports, pub: pub, logger: logger, now: time.Now}
}

func (r *QualityRunner) Launch(ctx context.Context, req RunRequest) (*TerminalResult, error) {
	if req.Mode == ModeAtomic {
		var recs []Record
		r.execute(ctx, req, func(rec Record) error {
			recs = append(recs, rec)
			return nil
		})
		res := Terminal(req.RunID, recs)
		return &res, nil
	}
	if err := r.execute(ctx, req, func(rec Record) error { return r.pub.Publish(ctx, rec) }); err != nil {
		return nil, err
	}
	return nil, nil
}

type ruleSpec struct {
	Dimension string  `json:"dimension,omitempty"`
	Threshold float64 `json:"threshold"`
	Contract  int     `json:"contract_version,omitempty"`
}

// execute emits one record per step and stops at the first failed step.
// An error is returned only when emit fails.
func (r *QualityRunner) execute(ctx context.Context, req RunRequest, emit func(Record) error) error {
	record := func(kind RecordKind, id, status, msg string, payload any) Record {
		rec := Record{
			ID:        id,
			DatasetID: req.DatasetID,
			RunID:     req.RunID,
			Kind:      kind,
			Status:    status,
			Message:   msg,
			CreatedAt: r.now().UTC(),
		}
		if payload != nil {
			if b, err := json.Marshal(payload); err == nil {
				rec.Payload = b
			}
		}
		return rec
	}
	logger := r.logger.With(zap.String("dataset_id", req.DatasetID), zap.String("run_id", req.RunID))

	res, err := r.eval.Evaluate(ctx, quality.Request{
		DatasetID:     req.DatasetID,
		RunType:       req.RunType,
		LastUpdatedAt: req.LastExecutionTS,
	})
	if err != nil {
		logger.Warn("pipeline profiling failed", zap.Error(err))
		return emit(record(KindProfile, req.RunID+"/profile", RecordFailed, err.Error(), nil))
	}
	run := res.Run

	if err := emit(record(KindProfile, run.ID+"/profile", RecordOK, "", map[string]any{
		"sample_size":     run.Evidence.SampleSize,
		"column_profiles": run.Profiles,
	})); err != nil {
		return err
	}

	for _, rule := range rulesFor(res.Contract) {
		id := fmt.Sprintf("%s/rule/%s", req.DatasetID, rule.Dimension)
		if rule.Contract > 0 {
			id = fmt.Sprintf("%s/v%d/rule/%s", req.DatasetID, rule.Contract, rule.Dimension)
		}
		if err := emit(record(KindRule, id, RecordOK, "", rule)); err != nil {
			return err
		}
	}

	if err := emit(record(KindExecution, run.ID, RecordOK, "", map[string]any{
		"verdict":       run.Verdict,
		"overall_score": run.Overall,
		"violations":    len(run.Violations),
	})); err != nil {
		return err
	}

	asset := "quality_runs/" + run.ID
	if r.reports != nil {
		key, err := r.reports.PutReport(ctx, run)
		if err != nil {
			logger.Warn("pipeline dashboard upload failed", zap.Error(err))
			return emit(record(KindDashboardAsset, run.ID+"/dashboard", RecordFailed, err.Error(), nil))
		}
		asset = key
	}
	if err := emit(record(KindDashboardAsset, asset, RecordOK, "", nil)); err != nil {
		return err
	}

	return emit(record(KindIssueReport, run.ID+"/issues", RecordOK, "", map[string]any{
		"violations": run.Violations,
		"escalation": res.Escalation,
	}))
}

// rulesFor turns a contract into the rule set the run is checked against.
// Without a contract the only rule is the default pass threshold.
func rulesFor(c *quality.Contract) []ruleSpec {
	if c == nil {
		return []ruleSpec{{Dimension: "overall", Threshold: float64(quality.PassThreshold)}}
	}
	var out []ruleSpec
	for _, d := range quality.Dimensions {
		if t, ok := c.Thresholds[d]; ok {
			out = append(out, ruleSpec{Dimension: string(d), Threshold: float64(t), Contract: c.Version})
		}
	}
	if c.MinOverall != nil {
		out = append(out, ruleSpec{Dimension: "overall", Threshold: float64(*c.MinOverall), Contract: c.Version})
	}
	if len(c.ExpectedColumns) > 0 {
		out = append(out, ruleSpec{Dimension: "schema", Threshold: 1, Contract: c.Version})
	}
	return out
}
