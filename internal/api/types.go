package api

import (
	"encoding/json"
	"time"

	"github.com/triage-ai/warden/internal/generation"
	"github.com/triage-ai/warden/internal/pipeline"
	"github.com/triage-ai/warden/internal/quality"
)

// ErrorResp is the body of every error response.
type ErrorResp struct {
	Error              string   `json:"error"`
	Code               string   `json:"code"`
	TraceID            string   `json:"trace_id,omitempty"`
	Decision           string   `json:"decision,omitempty"`
	Details            []string `json:"details,omitempty"`
	MissingAssessments []string `json:"missing_assessments,omitempty"`
}

// --- POST /v1/evaluate ---

// EvaluateRequest is the JSON body for POST /v1/evaluate.
type EvaluateRequest struct {
	SystemID string               `json:"system_id"`
	Messages []generation.Message `json:"messages"`
	TraceID  string               `json:"trace_id,omitempty"`
}

// EvaluateMeta is appended to the generated response as "_meta".
type EvaluateMeta struct {
	Decision  string  `json:"decision"`
	LatencyMs float64 `json:"latency_ms"`
	TraceID   string  `json:"trace_id"`
}

// EvaluateResponse is the generated response with its governance metadata.
type EvaluateResponse struct {
	*generation.Response
	Meta EvaluateMeta `json:"_meta"`
}

// --- POST /v1/evaluate-quality ---

// EvaluateQualityRequest is the JSON body for POST /v1/evaluate-quality.
type EvaluateQualityRequest struct {
	DatasetID               string         `json:"dataset_id"`
	RunType                 string         `json:"run_type,omitempty"`
	SampleData              []quality.Row  `json:"sample_data,omitempty"`
	SchemaDefinition        quality.Schema `json:"schema_definition,omitempty"`
	FreshnessThresholdHours float64        `json:"freshness_threshold_hours,omitempty"`
	LastUpdatedAt           *time.Time     `json:"last_updated_at,omitempty"`
	CheckContract           *bool          `json:"check_contract,omitempty"`
}

// MetricResp is one dimension in a quality response.
type MetricResp struct {
	Score    quality.Ratio   `json:"score"`
	Percent  quality.Percent `json:"percent"`
	Computed bool            `json:"computed"`
	Weight   float64         `json:"weight"`
	Details  map[string]any  `json:"details,omitempty"`
}

// EvidenceResp is the tamper-evidence block of a quality response.
type EvidenceResp struct {
	Hash       string    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
	SampleSize int       `json:"sample_size"`
}

// EvaluateQualityResponse is the body for a computed quality run.
type EvaluateQualityResponse struct {
	RunID             string                           `json:"run_id"`
	DatasetID         string                           `json:"dataset_id"`
	Verdict           quality.Verdict                  `json:"verdict"`
	OverallScore      quality.Ratio                    `json:"overall_score"`
	OverallPercent    quality.Percent                  `json:"overall_percent"`
	Metrics           map[quality.Dimension]MetricResp `json:"metrics"`
	DistributionSkew  []quality.SkewFinding            `json:"distribution_skew"`
	SensitiveBalance  []quality.BalanceFinding         `json:"sensitive_balance"`
	DuplicateRows     quality.DuplicateReport          `json:"duplicate_rows"`
	ColumnProfiles    []quality.ColumnProfile          `json:"column_profiles"`
	ContractViolation []quality.ContractViolation      `json:"contract_violation,omitempty"`
	Escalation        *quality.EscalationRef           `json:"escalation,omitempty"`
	Evidence          EvidenceResp                     `json:"evidence"`
}

// --- Pipelines ---

// StartPipelineRequest is the JSON body for POST /v1/pipelines/{dataset_id}/run.
type StartPipelineRequest struct {
	DatasetVersion  string     `json:"dataset_version,omitempty"`
	ExecutionMode   string     `json:"execution_mode,omitempty"`
	LastExecutionTS *time.Time `json:"last_execution_ts,omitempty"`
}

// StartPipelineResponse carries the id of the accepted run.
type StartPipelineResponse struct {
	RunID string `json:"run_id"`
}

// PublishRecordRequest is the JSON body for POST /v1/pipelines/{dataset_id}/records.
type PublishRecordRequest struct {
	ID      string              `json:"id"`
	RunID   string              `json:"run_id,omitempty"`
	Kind    pipeline.RecordKind `json:"kind"`
	Status  string              `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	Payload json.RawMessage     `json:"payload,omitempty"`
}
