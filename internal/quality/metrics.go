package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// isNull treats missing keys, JSON null and blank strings as null.
func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// Columns returns the columns a sample is measured over: the schema's
// columns when a schema is given, else the sorted union of row keys.
func Columns(rows []Row, schema Schema) []string {
	seen := map[string]bool{}
	var cols []string
	if len(schema) > 0 {
		for c := range schema {
			cols = append(cols, c)
		}
	} else {
		for _, r := range rows {
			for c := range r {
				if !seen[c] {
					seen[c] = true
					cols = append(cols, c)
				}
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// Completeness is non-null cells over rows × columns, with a per-column breakdown.
func Completeness(rows []Row, columns []string) DimensionScore {
	out := DimensionScore{
		Dimension: DimCompleteness,
		Weight:    DefaultWeights[DimCompleteness],
		Columns:   make(map[string]Ratio, len(columns)),
	}
	total := len(rows) * len(columns)
	if total == 0 {
		return out
	}

	filled := 0
	for _, c := range columns {
		colFilled := 0
		for _, r := range rows {
			if !isNull(r[c]) {
				colFilled++
			}
		}
		out.Columns[c] = fraction(colFilled, len(rows))
		filled += colFilled
	}

	out.Score = fraction(filled, total)
	out.Computed = true
	out.Details = map[string]any{
		"non_null_cells": filled,
		"total_cells":    total,
	}
	return out
}

// Validity is cells matching the declared type over non-null cells checked.
// Columns without a known declared type are not checked.
func Validity(rows []Row, schema Schema) DimensionScore {
	out := DimensionScore{
		Dimension: DimValidity,
		Weight:    DefaultWeights[DimValidity],
		Columns:   map[string]Ratio{},
	}

	checked, valid := 0, 0
	for c, typ := range schema {
		pred, ok := typePredicates[typ]
		if !ok {
			continue
		}
		colChecked, colValid := 0, 0
		for _, r := range rows {
			v := r[c]
			if isNull(v) {
				continue
			}
			colChecked++
			if pred(v) {
				colValid++
			}
		}
		if colChecked > 0 {
			out.Columns[c] = fraction(colValid, colChecked)
		}
		checked += colChecked
		valid += colValid
	}

	if checked == 0 {
		return out
	}
	out.Score = fraction(valid, checked)
	out.Computed = true
	out.Details = map[string]any{
		"valid_cells":   valid,
		"checked_cells": checked,
	}
	return out
}

// Uniqueness averages, over columns, distinct serialized values per row.
func Uniqueness(rows []Row, columns []string) DimensionScore {
	out := DimensionScore{
		Dimension: DimUniqueness,
		Weight:    DefaultWeights[DimUniqueness],
		Columns:   make(map[string]Ratio, len(columns)),
	}
	if len(rows) == 0 || len(columns) == 0 {
		return out
	}

	var sum float64
	for _, c := range columns {
		distinct := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			distinct[serialize(r[c])] = struct{}{}
		}
		u := fraction(len(distinct), len(rows))
		out.Columns[c] = u
		sum += float64(u)
	}

	out.Score = ClampRatio(sum / float64(len(columns)))
	out.Computed = true
	return out
}

// DuplicateRows counts whole-row duplicates by serialized content.
func DuplicateRows(rows []Row) DuplicateReport {
	distinct := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		distinct[serialize(r)] = struct{}{}
	}
	return DuplicateReport{
		TotalRows:     len(rows),
		DistinctRows:  len(distinct),
		DuplicateRows: len(rows) - len(distinct),
		RowUniqueness: fraction(len(distinct), len(rows)),
	}
}

// FailingRows returns up to limit rows that have a null or mistyped cell.
func FailingRows(rows []Row, columns []string, schema Schema, limit int) []Row {
	var out []Row
	for _, r := range rows {
		if len(out) >= limit {
			break
		}
		for _, c := range columns {
			v := r[c]
			if isNull(v) {
				out = append(out, r)
				break
			}
			if pred, ok := typePredicates[schema[c]]; ok && !pred(v) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// serialize gives a stable string form for distinctness checks. Maps are
// encoded with sorted keys by encoding/json.
func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

var typePredicates = map[ColumnType]func(any) bool{
	TypeString:  isString,
	TypeNumber:  isNumber,
	TypeBoolean: isBoolean,
	TypeDate:    isDate,
	TypeUUID:    isUUID,
	TypeEmail:   isEmail,
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isNumber(v any) bool {
	_, ok := toFloat(v)
	return ok
}

func isBoolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "false"
	}
	return false
}

func isDate(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return !t.IsZero()
	case string:
		_, ok := parseDate(t)
		return ok
	}
	return false
}

func isUUID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return uuid.Validate(strings.TrimSpace(s)) == nil
}

func isEmail(v any) bool {
	s, ok := v.(string)
	return ok && emailRe.MatchString(strings.TrimSpace(s))
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toFloat accepts JSON numbers, Go numerics and numeric strings (CSV cells).
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// inferValueType classifies a single non-null value, most specific first.
func inferValueType(v any) ColumnType {
	switch t := v.(type) {
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeDate
	case string:
		switch {
		case isUUID(t):
			return TypeUUID
		case isEmail(t):
			return TypeEmail
		case isBoolean(t):
			return TypeBoolean
		case isNumber(t):
			return TypeNumber
		case isDate(t):
			return TypeDate
		default:
			return TypeString
		}
	}
	if isNumber(v) {
		return TypeNumber
	}
	return TypeString
}

// InferSchema derives a schema from the sample: each column gets the type
// most of its non-null values have.
func InferSchema(rows []Row) Schema {
	schema := Schema{}
	for _, c := range Columns(rows, nil) {
		schema[c] = inferColumnType(rows, c)
	}
	return schema
}

var typeOrder = []ColumnType{TypeNumber, TypeBoolean, TypeDate, TypeUUID, TypeEmail, TypeString}

func inferColumnType(rows []Row, col string) ColumnType {
	counts := map[ColumnType]int{}
	for _, r := range rows {
		v := r[col]
		if isNull(v) {
			continue
		}
		counts[inferValueType(v)]++
	}
	best, bestN := TypeUnknown, 0
	for _, t := range typeOrder {
		if counts[t] > bestN {
			best, bestN = t, counts[t]
		}
	}
	return best
}
