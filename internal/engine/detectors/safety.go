package detectors

import (
	"context"
	"strings"

	"github.com/triage-ai/warden/internal/engine"
)

// SafetyEngine matches the harmful keyword list. Any match blocks.
type SafetyEngine struct {
	scanner *Scanner
}

func NewSafetyEngine(scanner *Scanner) *SafetyEngine {
	return &SafetyEngine{scanner: scanner}
}

func (e *SafetyEngine) Name() string {
	return "safety"
}

func (e *SafetyEngine) Category() engine.Category {
	return engine.CategorySafety
}

func (e *SafetyEngine) Evaluate(ctx context.Context, text string) (*engine.EngineScore, error) {
	matched, err := e.scanner.MatchKeywords(ctx, text)
	if err != nil {
		return nil, err
	}

	categories := e.scanner.KeywordCategories()
	scores := make(map[string]float64, len(categories)+2)
	for _, c := range categories {
		scores[c+"_matches"] = 0
	}
	for _, k := range matched {
		scores[k.Category+"_matches"]++
	}
	scores["matched_keywords"] = float64(len(matched))

	toxicity := 0.0
	if n := e.scanner.KeywordCount(); n > 0 {
		toxicity = float64(len(matched)) / float64(n)
	}
	scores["toxicity"] = toxicity

	out := &engine.EngineScore{
		Engine:   e.Name(),
		Category: e.Category(),
		Scores:   scores,
		Verdict:  engine.VerdictAllow,
	}
	if len(matched) > 0 {
		var hit []string
		for _, c := range categories {
			if scores[c+"_matches"] > 0 {
				hit = append(hit, c)
			}
		}
		out.Verdict = engine.VerdictBlock
		out.Details = "harmful content: " + strings.Join(hit, ", ")
	}
	return out, nil
}
