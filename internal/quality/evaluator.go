package quality

import (
	"fmt"
	"time"
)

// maxFailingRows bounds the failing-row evidence attached to a run.
const maxFailingRows = 5

// Input is everything a quality computation needs. It carries no I/O.
type Input struct {
	DatasetID               string
	RunType                 RunType
	Rows                    []Row
	Schema                  Schema
	LastUpdated             *time.Time
	FreshnessThresholdHours float64
	Source                  string
}

// Compute runs every calculator over the sample and scores the result.
// It is deterministic for a given input and clock. The returned run has
// no ID; the caller assigns one when persisting it.
func Compute(in Input, now time.Time) (*Run, error) {
	schema := in.Schema
	if len(schema) == 0 {
		schema = InferSchema(in.Rows)
	}
	columns := Columns(in.Rows, schema)

	dims := map[Dimension]DimensionScore{
		DimCompleteness: Completeness(in.Rows, columns),
		DimValidity:     Validity(in.Rows, schema),
		DimUniqueness:   Uniqueness(in.Rows, columns),
		DimFreshness:    Freshness(in.LastUpdated, now, in.FreshnessThresholdHours),
	}

	overall := OverallScore(dims, len(in.Rows))

	ts := now.UTC()
	hash, err := EvidenceHash(dims, ts)
	if err != nil {
		return nil, fmt.Errorf("Compute: %w", err)
	}

	runType := in.RunType
	if runType == "" {
		runType = RunManual
	}

	return &Run{
		DatasetID:    in.DatasetID,
		RunType:      runType,
		Dimensions:   dims,
		Overall:      overall,
		Verdict:      VerdictFor(overall),
		Profiles:     ProfileColumns(in.Rows, columns),
		Distribution: DistributionSkew(in.Rows, columns, schema),
		Balance:      SensitiveBalance(in.Rows, columns),
		Duplicates:   DuplicateRows(in.Rows),
		FailingRows:  FailingRows(in.Rows, columns, schema, maxFailingRows),
		Evidence: Evidence{
			Hash:       hash,
			Timestamp:  ts,
			SampleSize: len(in.Rows),
			Source:     in.Source,
		},
		CreatedAt: ts,
	}, nil
}

// ObservedSchema is the schema actually present in the sample: declared
// types for declared columns that appear in the rows, inferred otherwise.
func ObservedSchema(rows []Row, declared Schema) Schema {
	inferred := InferSchema(rows)
	out := make(Schema, len(inferred))
	for col, typ := range inferred {
		if d, ok := declared[col]; ok {
			typ = d
		}
		out[col] = typ
	}
	return out
}
