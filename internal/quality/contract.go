package quality

import (
	"fmt"
	"sort"
)

// Contract is the quality agreement for one dataset.
type Contract struct {
	DatasetID       string                `json:"dataset_id"`
	Version         int                   `json:"version"`
	Thresholds      map[Dimension]Ratio   `json:"thresholds"`
	MinOverall      *Ratio                `json:"min_overall,omitempty"`
	ExpectedColumns map[string]ColumnType `json:"expected_columns,omitempty"`
	Schedule        string                `json:"schedule,omitempty"`
}

// ViolationType names the kind of contract breach.
type ViolationType string

const (
	ViolationBelowThreshold ViolationType = "below_threshold"
	ViolationOverall        ViolationType = "overall_below_threshold"
	ViolationMissingColumn  ViolationType = "schema_missing_column"
	ViolationTypeMismatch   ViolationType = "schema_type_mismatch"
)

// ContractViolation is one breach of a Contract.
type ContractViolation struct {
	Type      ViolationType `json:"type"`
	Dimension Dimension     `json:"dimension,omitempty"`
	Column    string        `json:"column,omitempty"`
	Severity  Severity      `json:"severity"`
	Expected  string        `json:"expected"`
	Observed  string        `json:"observed"`
	Message   string        `json:"message"`
}

// criticalShortfall is the relative shortfall above which a threshold
// breach is critical.
const criticalShortfall = 0.2

// dimensionSeverity is the severity of a non-critical threshold breach.
var dimensionSeverity = map[Dimension]Severity{
	DimCompleteness: SeverityHigh,
	DimValidity:     SeverityHigh,
	DimUniqueness:   SeverityMedium,
	DimFreshness:    SeverityMedium,
}

// CheckContractViolations compares computed dimensions and the observed
// schema against a contract. Uncomputed dimensions cannot breach.
func CheckContractViolations(c Contract, dims map[Dimension]DimensionScore, overall Ratio, actual Schema) []ContractViolation {
	var out []ContractViolation

	for _, d := range Dimensions {
		threshold, ok := c.Thresholds[d]
		if !ok {
			continue
		}
		s, ok := dims[d]
		if !ok || !s.Computed || s.Score >= threshold {
			continue
		}
		out = append(out, ContractViolation{
			Type:      ViolationBelowThreshold,
			Dimension: d,
			Severity:  shortfallSeverity(threshold, s.Score, dimensionSeverity[d]),
			Expected:  fmt.Sprintf(">= %s", threshold.Percent()),
			Observed:  s.Score.Percent().String(),
			Message:   fmt.Sprintf("%s %s is below the contracted %s", d, s.Score.Percent(), threshold.Percent()),
		})
	}

	if c.MinOverall != nil && overall < *c.MinOverall {
		out = append(out, ContractViolation{
			Type:     ViolationOverall,
			Severity: shortfallSeverity(*c.MinOverall, overall, SeverityHigh),
			Expected: fmt.Sprintf(">= %s", c.MinOverall.Percent()),
			Observed: overall.Percent().String(),
			Message:  fmt.Sprintf("overall score %s is below the contracted %s", overall.Percent(), c.MinOverall.Percent()),
		})
	}

	cols := make([]string, 0, len(c.ExpectedColumns))
	for col := range c.ExpectedColumns {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		want := c.ExpectedColumns[col]
		got, present := actual[col]
		switch {
		case !present:
			out = append(out, ContractViolation{
				Type:     ViolationMissingColumn,
				Column:   col,
				Severity: SeverityCritical,
				Expected: string(want),
				Observed: "missing",
				Message:  fmt.Sprintf("expected column %q is missing", col),
			})
		case want != "" && got != TypeUnknown && got != want:
			out = append(out, ContractViolation{
				Type:     ViolationTypeMismatch,
				Column:   col,
				Severity: SeverityHigh,
				Expected: string(want),
				Observed: string(got),
				Message:  fmt.Sprintf("column %q is %s, expected %s", col, got, want),
			})
		}
	}

	return out
}

func shortfallSeverity(threshold, observed Ratio, otherwise Severity) Severity {
	if threshold > 0 && float64(threshold-observed)/float64(threshold) > criticalShortfall {
		return SeverityCritical
	}
	return otherwise
}

// MaxSeverity returns the most severe violation's severity, or "" for none.
func MaxSeverity(vs []ContractViolation) Severity {
	var best Severity
	for _, v := range vs {
		if v.Severity.Rank() > best.Rank() {
			best = v.Severity
		}
	}
	return best
}
