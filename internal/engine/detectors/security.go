package detectors

import (
	"context"
	"strings"

	"github.com/triage-ai/warden/internal/engine"
)

// SecurityEngine looks for credentials and internal infrastructure
// references. Any match blocks.
type SecurityEngine struct {
	scanner *Scanner
}

func NewSecurityEngine(scanner *Scanner) *SecurityEngine {
	return &SecurityEngine{scanner: scanner}
}

func (e *SecurityEngine) Name() string {
	return "security"
}

func (e *SecurityEngine) Category() engine.Category {
	return engine.CategorySecurity
}

func (e *SecurityEngine) Evaluate(ctx context.Context, text string) (*engine.EngineScore, error) {
	counts, err := e.scanner.CountSecrets(ctx, text)
	if err != nil {
		return nil, err
	}

	families := e.scanner.SecretFamilies()
	scores := make(map[string]float64, len(families)+1)
	total := 0
	for _, f := range families {
		scores[f+"_count"] = float64(counts[f])
		total += counts[f]
	}
	scores["secret_total"] = float64(total)

	out := &engine.EngineScore{
		Engine:   e.Name(),
		Category: e.Category(),
		Scores:   scores,
		Verdict:  engine.VerdictAllow,
	}
	if total > 0 {
		out.Verdict = engine.VerdictBlock
		out.Details = "secrets detected: " + strings.Join(familiesWithHits(families, counts, nil), ", ")
	}
	return out, nil
}

// DefaultEngines returns the privacy, safety and security engines in the
// order used for verdict attribution.
func DefaultEngines(scanner *Scanner) []engine.Engine {
	return []engine.Engine{
		NewPrivacyEngine(scanner),
		NewSafetyEngine(scanner),
		NewSecurityEngine(scanner),
	}
}
