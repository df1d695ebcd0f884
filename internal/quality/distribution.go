package quality

import (
	"math"
	"sort"
	"strings"
)

const minSkewSamples = 3

// ProtectedAttributes are the column names checked for group balance,
// matched case-insensitively.
var ProtectedAttributes = []string{
	"gender", "sex", "race", "ethnicity", "age_group",
	"religion", "nationality", "disability", "marital_status",
}

// DistributionSkew computes Fisher skewness and excess kurtosis for every
// numeric column with at least three values. Constant columns are skipped.
func DistributionSkew(rows []Row, columns []string, schema Schema) []SkewFinding {
	var out []SkewFinding
	for _, c := range columns {
		typ, declared := schema[c]
		if !declared {
			typ = inferColumnType(rows, c)
		}
		if typ != TypeNumber {
			continue
		}

		var xs []float64
		for _, r := range rows {
			if isNull(r[c]) {
				continue
			}
			if f, ok := toFloat(r[c]); ok {
				xs = append(xs, f)
			}
		}
		if len(xs) < minSkewSamples {
			continue
		}

		mean, std := meanStd(xs)
		if std == 0 {
			continue
		}
		var m3, m4 float64
		for _, x := range xs {
			z := (x - mean) / std
			m3 += z * z * z
			m4 += z * z * z * z
		}
		n := float64(len(xs))
		skew := m3 / n
		kurt := m4/n - 3

		out = append(out, SkewFinding{
			Column:   c,
			N:        len(xs),
			Mean:     mean,
			StdDev:   std,
			Skewness: skew,
			Kurtosis: kurt,
			Severity: skewSeverity(skew),
		})
	}
	return out
}

func skewSeverity(skew float64) Severity {
	switch a := math.Abs(skew); {
	case a > 2:
		return SeverityHigh
	case a > 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SensitiveBalance reports min/max group representation for every
// protected column present in the sample.
func SensitiveBalance(rows []Row, columns []string) []BalanceFinding {
	protected := make(map[string]bool, len(ProtectedAttributes))
	for _, a := range ProtectedAttributes {
		protected[a] = true
	}

	var out []BalanceFinding
	for _, c := range columns {
		if !protected[strings.ToLower(c)] {
			continue
		}
		counts := map[string]int{}
		for _, r := range rows {
			v := r[c]
			if isNull(v) {
				continue
			}
			counts[strings.Trim(serialize(v), `"`)]++
		}
		if len(counts) == 0 {
			continue
		}

		groups := make([]string, 0, len(counts))
		for g := range counts {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		lo, hi := counts[groups[0]], counts[groups[0]]
		for _, g := range groups[1:] {
			lo = min(lo, counts[g])
			hi = max(hi, counts[g])
		}

		out = append(out, BalanceFinding{
			Column:       c,
			GroupCounts:  counts,
			BalanceRatio: fraction(lo, hi),
		})
	}
	return out
}
