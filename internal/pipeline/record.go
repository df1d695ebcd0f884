package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/triage-ai/warden/internal/quality"
)

// Mode selects how a run reports progress.
type Mode string

const (
	// ModeStreamed runs publish one record per step onto the feed.
	ModeStreamed Mode = "streamed"
	// ModeAtomic runs return a single TerminalResult.
	ModeAtomic Mode = "atomic"
)

// ParseMode defaults to streamed.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "", ModeStreamed:
		return ModeStreamed, true
	case ModeAtomic:
		return ModeAtomic, true
	default:
		return "", false
	}
}

// RecordKind is the type of a pipeline result record.
type RecordKind string

const (
	KindProfile        RecordKind = "profile"
	KindRule           RecordKind = "rule"
	KindExecution      RecordKind = "execution"
	KindDashboardAsset RecordKind = "dashboard_asset"
	KindIncident       RecordKind = "incident"
	KindIssueReport    RecordKind = "issue_report"
)

// Valid reports whether k is a known kind.
func (k RecordKind) Valid() bool {
	switch k {
	case KindProfile, KindRule, KindExecution, KindDashboardAsset, KindIncident, KindIssueReport:
		return true
	}
	return false
}

// Record statuses. Phase records are either ok (empty) or failed; incident
// records carry the incident status.
const (
	RecordOK           = ""
	RecordFailed       = "failed"
	RecordOpen         = "open"
	RecordAcknowledged = "acknowledged"
	RecordResolved     = "resolved"
)

// Record is one typed result delivered through a Feed.
type Record struct {
	ID        string          `json:"id" validate:"required"`
	DatasetID string          `json:"dataset_id" validate:"required"`
	RunID     string          `json:"run_id,omitempty"`
	Kind      RecordKind      `json:"kind" validate:"required"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Feed delivers records per dataset. Subscribe returns a channel that is
// closed when the subscription drops; callers reconnect and reconcile
// with Latest.
type Feed interface {
	Publish(ctx context.Context, rec Record) error
	Subscribe(ctx context.Context, datasetID string) (<-chan Record, error)
	Latest(ctx context.Context, datasetID string) ([]Record, error)
}

// RunRequest starts one pipeline run.
type RunRequest struct {
	DatasetID       string
	RunID           string
	DatasetVersion  string
	Mode            Mode
	RunType         quality.RunType
	LastExecutionTS *time.Time
}

// TerminalResult is the outcome of an atomic run. FailedStep is the
// 1-based step that failed when Success is false.
type TerminalResult struct {
	RunID            string    `json:"run_id"`
	Success          bool      `json:"success"`
	FailedStep       int       `json:"failed_step,omitempty"`
	Error            string    `json:"error,omitempty"`
	ProfileID        string    `json:"profile_id,omitempty"`
	RuleIDs          []string  `json:"rule_ids,omitempty"`
	ExecutionID      string    `json:"execution_id,omitempty"`
	DashboardAssetID string    `json:"dashboard_asset_id,omitempty"`
	IssueReportID    string    `json:"issue_report_id,omitempty"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Terminal folds the records of one run into the equivalent atomic result.
func Terminal(runID string, recs []Record) TerminalResult {
	res := TerminalResult{RunID: runID}
	for _, r := range recs {
		if r.RunID != runID || r.Kind == KindIncident {
			continue
		}
		res.FinishedAt = r.CreatedAt
		if r.Status == RecordFailed {
			res.FailedStep = stepOf(r.Kind)
			res.Error = r.Message
			return res
		}
		switch r.Kind {
		case KindProfile:
			res.ProfileID = r.ID
		case KindRule:
			res.RuleIDs = append(res.RuleIDs, r.ID)
		case KindExecution:
			res.ExecutionID = r.ID
		case KindDashboardAsset:
			res.DashboardAssetID = r.ID
		case KindIssueReport:
			res.IssueReportID = r.ID
			res.Success = true
			return res
		}
	}
	return res
}

func stepOf(k RecordKind) int {
	switch k {
	case KindProfile:
		return StepProfiling
	case KindRule:
		return StepRuleDevelopment
	case KindExecution:
		return StepRuleExecution
	case KindDashboardAsset:
		return StepDashboardGeneration
	case KindIssueReport:
		return StepIssueManagement
	}
	return 0
}
