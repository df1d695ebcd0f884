package pipeline

import (
	"slices"
	"time"
)

// Status is the overall pipeline status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// StepStatus is the status of a single step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
)

// rank orders step statuses; passed and failed are both terminal.
func (s StepStatus) rank() int {
	switch s {
	case StepRunning:
		return 1
	case StepPassed, StepFailed:
		return 2
	default:
		return 0
	}
}

// Step numbers, 1-based.
const (
	StepProfiling = iota + 1
	StepRuleDevelopment
	StepRuleExecution
	StepDashboardGeneration
	StepIssueManagement

	NumSteps = StepIssueManagement
)

var stepNames = [NumSteps]string{
	"Profiling",
	"Rule Development",
	"Rule Execution",
	"Dashboard Generation",
	"Issue Management",
}

// Step is one phase of the pipeline.
type Step struct {
	Number int        `json:"step"`
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

// State is the pipeline state of one dataset. Values are snapshots; the
// orchestrator owns the live copy.
type State struct {
	DatasetID      string         `json:"dataset_id"`
	RunID          string         `json:"run_id,omitempty"`
	DatasetVersion string         `json:"dataset_version,omitempty"`
	Mode           Mode           `json:"execution_mode,omitempty"`
	Status         Status         `json:"status"`
	Steps          [NumSteps]Step `json:"steps"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	ElapsedTicks   int            `json:"elapsed_ticks"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`

	ProfileID        string   `json:"profile_id,omitempty"`
	RuleIDs          []string `json:"rule_ids"`
	ExecutionID      string   `json:"execution_id,omitempty"`
	DashboardAssetID string   `json:"dashboard_asset_id,omitempty"`
	IssueReportID    string   `json:"issue_report_id,omitempty"`
	OpenIncidents    []string `json:"open_incidents"`
	Error            string   `json:"error,omitempty"`
}

// Idle returns the initial state for a dataset.
func Idle(datasetID string) State {
	s := State{DatasetID: datasetID, Status: StatusIdle}
	s.resetSteps()
	return s
}

func (s *State) resetSteps() {
	for i := range s.Steps {
		s.Steps[i] = Step{Number: i + 1, Name: stepNames[i], Status: StepPending}
	}
}

// Begin starts a new run: every step pending except Profiling, which is
// running. Anything collected by a previous run is dropped.
func Begin(datasetID, runID string, mode Mode, version string, now time.Time) State {
	s := Idle(datasetID)
	s.RunID = runID
	s.Mode = mode
	s.DatasetVersion = version
	s.Status = StatusRunning
	t := now.UTC()
	s.StartedAt = &t
	s.Steps[0].Status = StepRunning
	return s
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.RuleIDs = slices.Clone(s.RuleIDs)
	s.OpenIncidents = slices.Clone(s.OpenIncidents)
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// Step returns the status of step n (1-based).
func (s State) Step(n int) StepStatus {
	return s.Steps[n-1].Status
}

// RunningStep returns the first running step, or 0.
func (s State) RunningStep() int {
	for i, st := range s.Steps {
		if st.Status == StepRunning {
			return i + 1
		}
	}
	return 0
}

// move advances step n to status if that is a forward move.
func (s *State) move(n int, to StepStatus) {
	cur := s.Steps[n-1].Status
	if to.rank() > cur.rank() {
		s.Steps[n-1].Status = to
	}
}

// passThrough marks steps 1..n passed.
func (s *State) passThrough(n int) {
	for i := 1; i <= n; i++ {
		s.move(i, StepPassed)
	}
}

// fail marks steps before n passed and step n failed, ending the run.
func (s *State) fail(n int, msg string) {
	s.passThrough(n - 1)
	s.move(n, StepFailed)
	s.Status = StatusError
	s.Error = msg
}

func (s *State) succeed() {
	s.passThrough(NumSteps)
	s.Status = StatusSuccess
}

// accepts reports whether rec belongs to the current run. Incident records
// may arrive after the run has finished and carry no run id.
func (s State) accepts(rec Record) bool {
	if rec.DatasetID != s.DatasetID {
		return false
	}
	if rec.Kind == KindIncident {
		return s.Status != StatusIdle && (rec.RunID == "" || rec.RunID == s.RunID)
	}
	return s.Status == StatusRunning && rec.RunID == s.RunID
}

// Reduce applies one record to a state. It is pure: stale records are
// discarded and steps only move forward, so duplicate and out-of-order
// deliveries leave the state unchanged.
func Reduce(s State, rec Record) State {
	if !s.accepts(rec) {
		return s
	}
	failed := rec.Status == RecordFailed
	if failed {
		// A failure only lands on a step that has not finished.
		if n := stepOf(rec.Kind); n > 0 && s.Step(n).rank() > StepRunning.rank() {
			return s
		}
	}
	s = s.Clone()

	switch rec.Kind {
	case KindProfile:
		if failed {
			s.fail(StepProfiling, rec.Message)
			break
		}
		s.ProfileID = rec.ID
		s.passThrough(StepProfiling)
		s.move(StepRuleDevelopment, StepRunning)

	case KindRule:
		if failed {
			s.fail(StepRuleDevelopment, rec.Message)
			break
		}
		if !slices.Contains(s.RuleIDs, rec.ID) {
			s.RuleIDs = append(s.RuleIDs, rec.ID)
		}

	case KindExecution:
		if failed {
			s.fail(StepRuleExecution, rec.Message)
			break
		}
		s.ExecutionID = rec.ID
		s.passThrough(StepRuleExecution)
		s.move(StepDashboardGeneration, StepRunning)

	case KindDashboardAsset:
		if failed {
			s.fail(StepDashboardGeneration, rec.Message)
			break
		}
		s.DashboardAssetID = rec.ID
		s.passThrough(StepDashboardGeneration)
		s.move(StepIssueManagement, StepRunning)

	case KindIssueReport:
		if failed {
			s.fail(StepIssueManagement, rec.Message)
			break
		}
		s.IssueReportID = rec.ID
		s.succeed()

	case KindIncident:
		if rec.Status == RecordResolved {
			s.OpenIncidents = slices.DeleteFunc(s.OpenIncidents, func(id string) bool { return id == rec.ID })
		} else if !slices.Contains(s.OpenIncidents, rec.ID) {
			s.OpenIncidents = append(s.OpenIncidents, rec.ID)
		}
	}

	if s.Status != StatusRunning && s.FinishedAt == nil && s.Status != StatusIdle {
		t := rec.CreatedAt.UTC()
		s.FinishedAt = &t
	}
	return s
}

// ApplyTerminal applies the single result of an atomic run. It converges
// on the state the same run would reach through streamed records.
func ApplyTerminal(s State, res TerminalResult) State {
	if s.Status != StatusRunning || res.RunID != s.RunID {
		return s
	}
	s = s.Clone()
	s.ProfileID = res.ProfileID
	for _, id := range res.RuleIDs {
		if !slices.Contains(s.RuleIDs, id) {
			s.RuleIDs = append(s.RuleIDs, id)
		}
	}
	s.ExecutionID = res.ExecutionID
	s.DashboardAssetID = res.DashboardAssetID
	s.IssueReportID = res.IssueReportID

	if res.Success {
		s.succeed()
	} else {
		step := res.FailedStep
		if step < 1 || step > NumSteps {
			step = max(s.RunningStep(), StepProfiling)
		}
		// Later steps never started.
		for i := step + 1; i <= NumSteps; i++ {
			s.Steps[i-1].Status = StepPending
		}
		s.fail(step, res.Error)
	}
	t := res.FinishedAt.UTC()
	s.FinishedAt = &t
	return s
}

// Tick advances the elapsed counter while the pipeline is running.
func Tick(s State, interval time.Duration) State {
	if s.Status != StatusRunning {
		return s
	}
	s.ElapsedTicks++
	s.ElapsedSeconds = float64(s.ElapsedTicks) * interval.Seconds()
	return s
}
