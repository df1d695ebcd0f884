package detectors

import (
	"context"
	"strings"

	"github.com/triage-ai/warden/internal/engine"
)

// PrivacyEngine counts PII per family. National IDs and payment cards
// block; any other PII warns.
type PrivacyEngine struct {
	scanner *Scanner
}

func NewPrivacyEngine(scanner *Scanner) *PrivacyEngine {
	return &PrivacyEngine{scanner: scanner}
}

func (e *PrivacyEngine) Name() string {
	return "privacy"
}

func (e *PrivacyEngine) Category() engine.Category {
	return engine.CategoryPrivacy
}

func (e *PrivacyEngine) Evaluate(ctx context.Context, text string) (*engine.EngineScore, error) {
	counts, err := e.scanner.CountPII(ctx, text)
	if err != nil {
		return nil, err
	}

	families := e.scanner.PIIFamilies()
	scores := make(map[string]float64, len(families)+1)
	total := 0
	for _, f := range families {
		scores[f+"_count"] = float64(counts[f])
		total += counts[f]
	}
	scores["pii_total"] = float64(total)

	out := &engine.EngineScore{
		Engine:   e.Name(),
		Category: e.Category(),
		Scores:   scores,
		Verdict:  engine.VerdictAllow,
	}

	if sensitive := familiesWithHits(families, counts, e.scanner.IsSensitive); len(sensitive) > 0 {
		out.Verdict = engine.VerdictBlock
		out.Details = "sensitive PII detected: " + strings.Join(sensitive, ", ")
		return out, nil
	}
	if hits := familiesWithHits(families, counts, nil); len(hits) > 0 {
		out.Verdict = engine.VerdictWarn
		out.Details = "PII detected: " + strings.Join(hits, ", ")
	}
	return out, nil
}
