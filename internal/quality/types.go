package quality

import (
	"time"
)

// Dimension names a weighted quality dimension.
type Dimension string

const (
	DimCompleteness Dimension = "completeness"
	DimValidity     Dimension = "validity"
	DimUniqueness   Dimension = "uniqueness"
	DimFreshness    Dimension = "freshness"
)

// Dimensions lists the weighted dimensions in reporting order.
var Dimensions = []Dimension{DimCompleteness, DimValidity, DimUniqueness, DimFreshness}

// ColumnType is a declared or inferred column type.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
	TypeUUID    ColumnType = "uuid"
	TypeEmail   ColumnType = "email"
	TypeUnknown ColumnType = "unknown"
)

// Row is one record of a dataset sample, as decoded from JSON or CSV.
type Row = map[string]any

// Schema maps column name to declared type.
type Schema map[string]ColumnType

// Verdict is the quality gate outcome.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// Severity grades contract violations and distribution findings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, critical highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RunType distinguishes how a quality run was triggered.
type RunType string

const (
	RunManual    RunType = "manual"
	RunScheduled RunType = "scheduled"
	RunPipeline  RunType = "pipeline"
)

// DimensionScore is the result of one dimension calculator. Computed is
// false when the dimension could not be evaluated; such dimensions are
// left out of the weighted overall score.
type DimensionScore struct {
	Dimension Dimension        `json:"dimension"`
	Score     Ratio            `json:"score"`
	Computed  bool             `json:"computed"`
	Weight    float64          `json:"weight"`
	Columns   map[string]Ratio `json:"columns,omitempty"`
	Details   map[string]any   `json:"details,omitempty"`
}

// ColumnProfile summarises one column of a sample.
type ColumnProfile struct {
	Name          string     `json:"name"`
	InferredType  ColumnType `json:"inferred_type"`
	NullCount     int        `json:"null_count"`
	DistinctCount int        `json:"distinct_count"`
	Min           *float64   `json:"min,omitempty"`
	Max           *float64   `json:"max,omitempty"`
	Mean          *float64   `json:"mean,omitempty"`
	StdDev        *float64   `json:"stddev,omitempty"`
	SampleValues  []string   `json:"sample_values,omitempty"`
}

// SkewFinding is the distribution shape of one numeric column.
type SkewFinding struct {
	Column   string   `json:"column"`
	N        int      `json:"n"`
	Mean     float64  `json:"mean"`
	StdDev   float64  `json:"stddev"`
	Skewness float64  `json:"skewness"`
	Kurtosis float64  `json:"excess_kurtosis"`
	Severity Severity `json:"severity"`
}

// BalanceFinding reports group representation for a protected attribute.
type BalanceFinding struct {
	Column       string         `json:"column"`
	GroupCounts  map[string]int `json:"group_counts"`
	BalanceRatio Ratio          `json:"balance_ratio"`
}

// DuplicateReport is the whole-row duplicate check. It is reported next
// to uniqueness and never substituted for it.
type DuplicateReport struct {
	TotalRows     int   `json:"total_rows"`
	DistinctRows  int   `json:"distinct_rows"`
	DuplicateRows int   `json:"duplicate_rows"`
	RowUniqueness Ratio `json:"row_uniqueness"`
}

// Evidence ties a run's metrics to the moment they were computed.
type Evidence struct {
	Hash       string    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
	SampleSize int       `json:"sample_size"`
	Source     string    `json:"source"`
}

// Run is one append-only quality evaluation.
type Run struct {
	ID           string                       `json:"run_id"`
	DatasetID    string                       `json:"dataset_id"`
	RunType      RunType                      `json:"run_type"`
	Dimensions   map[Dimension]DimensionScore `json:"metrics"`
	Overall      Ratio                        `json:"overall_score"`
	Verdict      Verdict                      `json:"verdict"`
	Profiles     []ColumnProfile              `json:"column_profiles"`
	Distribution []SkewFinding                `json:"distribution_skew"`
	Balance      []BalanceFinding             `json:"sensitive_balance"`
	Duplicates   DuplicateReport              `json:"duplicate_rows"`
	FailingRows  []Row                        `json:"failing_rows,omitempty"`
	Violations   []ContractViolation          `json:"contract_violations,omitempty"`
	Evidence     Evidence                     `json:"evidence"`
	CreatedAt    time.Time                    `json:"created_at"`
}
