package engine

// Combine folds the engine scores of one phase into a single verdict.
//
// Rules:
//  1. The combined verdict is the maximum verdict under BLOCK > WARN > ALLOW.
//  2. The contributing engine is the first engine (in the given order)
//     carrying that verdict.
//  3. Details list "engine: details" for every engine that did not ALLOW.
//
// An empty score list combines to ALLOW.
func Combine(scores []*EngineScore) CombinedVerdict {
	out := CombinedVerdict{Verdict: VerdictAllow}

	for _, s := range scores {
		if s == nil {
			continue
		}
		if s.Verdict > out.Verdict {
			out.Verdict = s.Verdict
			out.ContributingEngine = s.Engine
		}
		if s.Verdict > VerdictAllow {
			detail := s.Engine
			if s.Details != "" {
				detail += ": " + s.Details
			}
			out.Details = append(out.Details, detail)
		}
	}

	return out
}

// Blocked reports whether the combined verdict stops the request.
func (c CombinedVerdict) Blocked() bool {
	return c.Verdict == VerdictBlock
}
