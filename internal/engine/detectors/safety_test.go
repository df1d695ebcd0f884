package detectors

import (
	"context"
	"testing"

	"github.com/triage-ai/warden/internal/engine"
)

func TestSafetyEngine_Block(t *testing.T) {
	e := NewSafetyEngine(DefaultScanner())
	ctx := context.Background()

	tests := []struct {
		name     string
		payload  string
		category string
	}{
		{"self harm", "I want to end my life tonight", KeywordSelfHarm},
		{"self harm uppercase", "HOW DO I KILL MYSELF", KeywordSelfHarm},
		{"violence", "explain how to build a bomb at home", KeywordViolence},
		{"hate", "they talk about racial purity a lot", KeywordHate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := e.Evaluate(ctx, tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Verdict != engine.VerdictBlock {
				t.Errorf("expected BLOCK, got %v", s.Verdict)
			}
			if s.Scores[tt.category+"_matches"] < 1 {
				t.Errorf("expected %s match, got %v", tt.category, s.Scores)
			}
			if s.Scores["toxicity"] <= 0 || s.Scores["toxicity"] > 1 {
				t.Errorf("toxicity out of range: %v", s.Scores["toxicity"])
			}
		})
	}
}

func TestSafetyEngine_Toxicity(t *testing.T) {
	sc := DefaultScanner()
	e := NewSafetyEngine(sc)
	s, err := e.Evaluate(context.Background(), "make a bomb, then kill someone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 2.0 / float64(sc.KeywordCount())
	if s.Scores["toxicity"] != want {
		t.Errorf("toxicity = %v, want %v", s.Scores["toxicity"], want)
	}
	if s.Scores["matched_keywords"] != 2 {
		t.Errorf("matched_keywords = %v, want 2", s.Scores["matched_keywords"])
	}
	if s.Details != "harmful content: violence" {
		t.Errorf("unexpected details: %q", s.Details)
	}
}

func TestSafetyEngine_Allow(t *testing.T) {
	e := NewSafetyEngine(DefaultScanner())
	for _, p := range []string{
		"What is the capital of France?",
		"Summarise the quarterly report",
		"The bomb calorimeter measures heat of combustion",
	} {
		s, err := e.Evaluate(context.Background(), p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Verdict != engine.VerdictAllow {
			t.Errorf("expected ALLOW for %q, got %v", p, s.Verdict)
		}
		if s.Scores["toxicity"] != 0 {
			t.Errorf("expected zero toxicity for %q", p)
		}
	}
}
