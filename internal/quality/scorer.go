package quality

// DefaultWeights are the dimension weights of the overall score. They sum to 1.
var DefaultWeights = map[Dimension]float64{
	DimCompleteness: 0.25,
	DimValidity:     0.30,
	DimUniqueness:   0.20,
	DimFreshness:    0.25,
}

// Verdict thresholds on the overall score.
const (
	PassThreshold Ratio = 0.90
	WarnThreshold Ratio = 0.70
)

// OverallScore is the weighted mean of the computed dimensions, with
// weights renormalised over what was computed. A sample with no rows
// scores 0.
func OverallScore(dims map[Dimension]DimensionScore, rowCount int) Ratio {
	if rowCount == 0 {
		return 0
	}
	var weighted, weights float64
	for _, d := range Dimensions {
		s, ok := dims[d]
		if !ok || !s.Computed {
			continue
		}
		w := DefaultWeights[d]
		weighted += w * float64(s.Score)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return ClampRatio(weighted / weights)
}

// VerdictFor maps an overall score to PASS, WARN or FAIL.
func VerdictFor(overall Ratio) Verdict {
	switch {
	case overall >= PassThreshold:
		return VerdictPass
	case overall >= WarnThreshold:
		return VerdictWarn
	default:
		return VerdictFail
	}
}
