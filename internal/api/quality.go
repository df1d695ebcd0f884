package api

import (
	"net/http"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/quality"
)

// POST /v1/evaluate-quality
func (d *Dependencies) handleEvaluateQuality(w http.ResponseWriter, r *http.Request) {
	var req EvaluateQualityRequest
	if err := readJSON(w, r, &req); err != nil {
		d.writeError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	if req.DatasetID == "" {
		d.writeError(w, r, apperr.BadRequest("dataset_id is required"))
		return
	}
	runType := quality.RunType(req.RunType)
	switch runType {
	case "":
		runType = quality.RunManual
	case quality.RunManual, quality.RunScheduled, quality.RunPipeline:
	default:
		d.writeError(w, r, apperr.BadRequest("unknown run_type %q", req.RunType))
		return
	}
	if req.FreshnessThresholdHours < 0 {
		d.writeError(w, r, apperr.BadRequest("freshness_threshold_hours must not be negative"))
		return
	}

	res, err := d.Quality.Evaluate(r.Context(), quality.Request{
		DatasetID:               req.DatasetID,
		RunType:                 runType,
		SampleData:              req.SampleData,
		Schema:                  req.SchemaDefinition,
		FreshnessThresholdHours: req.FreshnessThresholdHours,
		LastUpdatedAt:           req.LastUpdatedAt,
		CheckContract:           req.CheckContract,
	})
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, qualityResponse(res))
}

func qualityResponse(res *quality.Result) EvaluateQualityResponse {
	run := res.Run
	metrics := make(map[quality.Dimension]MetricResp, len(run.Dimensions))
	for dim, s := range run.Dimensions {
		metrics[dim] = MetricResp{
			Score:    s.Score,
			Percent:  s.Score.Percent(),
			Computed: s.Computed,
			Weight:   s.Weight,
			Details:  s.Details,
		}
	}
	return EvaluateQualityResponse{
		RunID:             run.ID,
		DatasetID:         run.DatasetID,
		Verdict:           run.Verdict,
		OverallScore:      run.Overall,
		OverallPercent:    run.Overall.Percent(),
		Metrics:           metrics,
		DistributionSkew:  nonNil(run.Distribution),
		SensitiveBalance:  nonNil(run.Balance),
		DuplicateRows:     run.Duplicates,
		ColumnProfiles:    nonNil(run.Profiles),
		ContractViolation: run.Violations,
		Escalation:        res.Escalation,
		Evidence: EvidenceResp{
			Hash:       run.Evidence.Hash,
			Timestamp:  run.Evidence.Timestamp,
			SampleSize: run.Evidence.SampleSize,
		},
	}
}

// nonNil renders empty findings as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
