package engine

import (
	"fmt"
	"strings"
)

// Verdict is an enforcement decision. The numeric order is the precedence
// order: ALLOW < WARN < BLOCK.
type Verdict int

const (
	VerdictAllow Verdict = iota + 1
	VerdictWarn
	VerdictBlock
)

// String returns the uppercase verdict name used on the wire and in storage.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "ALLOW"
	case VerdictWarn:
		return "WARN"
	case VerdictBlock:
		return "BLOCK"
	default:
		return "UNSPECIFIED"
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "ALLOW":
		*v = VerdictAllow
	case "WARN":
		*v = VerdictWarn
	case "BLOCK":
		*v = VerdictBlock
	default:
		return fmt.Errorf("unknown verdict %q", string(b))
	}
	return nil
}

// Phase identifies which side of the generation call is being evaluated.
type Phase int

const (
	PhaseInput Phase = iota + 1
	PhaseOutput
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseOutput:
		return "output"
	default:
		return "unspecified"
	}
}

// Category classifies the concern an engine covers.
type Category int

const (
	CategoryUnspecified Category = iota
	CategoryPrivacy              // privacy
	CategorySafety               // safety
	CategorySecurity             // security
)

// String returns the lowercase category name (used for ClickHouse storage).
func (c Category) String() string {
	switch c {
	case CategoryPrivacy:
		return "privacy"
	case CategorySafety:
		return "safety"
	case CategorySecurity:
		return "security"
	default:
		return "unspecified"
	}
}

// EngineScore is the output of one engine for one phase. It is never
// mutated after the engine returns it.
type EngineScore struct {
	Engine   string             `json:"engine"`
	Category Category           `json:"-"`
	Scores   map[string]float64 `json:"scores"`
	Verdict  Verdict            `json:"verdict"`
	Details  string             `json:"details,omitempty"`
}

// CombinedVerdict is derived from the engine scores of a single phase.
type CombinedVerdict struct {
	Verdict            Verdict  `json:"verdict"`
	ContributingEngine string   `json:"contributing_engine,omitempty"`
	Details            []string `json:"details,omitempty"`
}
