package quality

import (
	"math"
	"strings"
	"time"
)

const profileSampleValues = 5

// ProfileColumns computes a fresh profile for every column.
func ProfileColumns(rows []Row, columns []string) []ColumnProfile {
	profiles := make([]ColumnProfile, 0, len(columns))
	for _, c := range columns {
		p := ColumnProfile{Name: c, InferredType: inferColumnType(rows, c)}

		distinct := map[string]struct{}{}
		var nums []float64
		for _, r := range rows {
			v := r[c]
			if isNull(v) {
				p.NullCount++
				continue
			}
			key := serialize(v)
			if _, ok := distinct[key]; !ok {
				distinct[key] = struct{}{}
				if len(p.SampleValues) < profileSampleValues {
					p.SampleValues = append(p.SampleValues, strings.Trim(key, `"`))
				}
			}
			if p.InferredType == TypeNumber {
				if f, ok := toFloat(v); ok {
					nums = append(nums, f)
				}
			}
		}
		p.DistinctCount = len(distinct)

		if len(nums) > 0 {
			mean, std := meanStd(nums)
			lo, hi := nums[0], nums[0]
			for _, f := range nums[1:] {
				lo = math.Min(lo, f)
				hi = math.Max(hi, f)
			}
			p.Min, p.Max, p.Mean, p.StdDev = &lo, &hi, &mean, &std
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// DefaultFreshnessThresholdHours applies when the caller sets no threshold.
const DefaultFreshnessThresholdHours = 24.0

// Freshness scores the age of the dataset. A nil lastUpdated means the
// age is unknown, which leaves the dimension uncomputed.
func Freshness(lastUpdated *time.Time, now time.Time, thresholdHours float64) DimensionScore {
	out := DimensionScore{
		Dimension: DimFreshness,
		Weight:    DefaultWeights[DimFreshness],
	}
	if lastUpdated == nil || lastUpdated.IsZero() {
		return out
	}
	if thresholdHours <= 0 {
		thresholdHours = DefaultFreshnessThresholdHours
	}

	hours := now.Sub(*lastUpdated).Hours()
	if hours < 0 {
		hours = 0
	}
	out.Score = FreshnessScore(hours, thresholdHours)
	out.Computed = true
	out.Details = map[string]any{
		"hours_since_update": hours,
		"threshold_hours":    thresholdHours,
	}
	return out
}

// FreshnessScore is 1 within the threshold, then decays linearly to 0 at
// twice the threshold.
func FreshnessScore(hours, thresholdHours float64) Ratio {
	if hours <= thresholdHours {
		return 1
	}
	return ClampRatio(math.Max(0, 1-(hours-thresholdHours)/thresholdHours))
}
