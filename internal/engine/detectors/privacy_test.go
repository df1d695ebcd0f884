package detectors

import (
	"context"
	"testing"

	"github.com/triage-ai/warden/internal/engine"
)

func TestPrivacyEngine_Block(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		family  string
	}{
		{"Visa with dashes", "My card is 4111-1111-1111-1111", FamilyCreditCard},
		{"Visa no dashes", "4111111111111111", FamilyCreditCard},
		{"Visa with spaces", "4111 1111 1111 1111", FamilyCreditCard},
		{"Mastercard", "5500-0000-0000-0004", FamilyCreditCard},
		{"Amex", "3782-822463-10005", FamilyCreditCard},
		{"Discover", "6011-0000-0000-0004", FamilyCreditCard},
		{"SSN with dashes", "My SSN is 123-45-6789", FamilySSN},
		{"SSN with spaces", "SSN: 123 45 6789", FamilySSN},
		{"Aadhaar grouped", "Aadhaar 2345 6789 0123", FamilyAadhaar},
		{"Aadhaar plain", "aadhaar no 234567890123", FamilyAadhaar},
		{"PAN", "PAN card ABCDE1234F on file", FamilyPAN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := e.Evaluate(ctx, tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Verdict != engine.VerdictBlock {
				t.Errorf("expected BLOCK, got %v (details %q)", s.Verdict, s.Details)
			}
			if s.Scores[tt.family+"_count"] != 1 {
				t.Errorf("expected %s_count=1, got %v", tt.family, s.Scores)
			}
		})
	}
}

func TestPrivacyEngine_CardExample(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	s, err := e.Evaluate(context.Background(), "My card is 4111-1111-1111-1111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Verdict != engine.VerdictBlock {
		t.Fatalf("expected BLOCK, got %v", s.Verdict)
	}
	if got := s.Scores["creditCard_count"]; got != 1 {
		t.Errorf("creditCard_count = %v, want 1", got)
	}
	for _, f := range []string{FamilySSN, FamilyAadhaar, FamilyPhone, FamilyEmail} {
		if got := s.Scores[f+"_count"]; got != 0 {
			t.Errorf("%s_count = %v, want 0", f, got)
		}
	}
	if s.Scores["pii_total"] != 1 {
		t.Errorf("pii_total = %v, want 1", s.Scores["pii_total"])
	}
}

func TestPrivacyEngine_Warn(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		family  string
	}{
		{"email simple", "Contact me at john.doe@example.com", FamilyEmail},
		{"email with plus", "Email: user+tag@company.org", FamilyEmail},
		{"US phone with parens", "Call me at (555) 123-4567", FamilyPhone},
		{"US phone with dashes", "Phone: 555-123-4567", FamilyPhone},
		{"US phone with country code", "+1-555-123-4567", FamilyPhone},
		{"India mobile", "reach me on +91 98765 43210", FamilyPhone},
		{"IBAN", "Transfer to GB29NWBK60161331926819", FamilyIBAN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := e.Evaluate(ctx, tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Verdict != engine.VerdictWarn {
				t.Errorf("expected WARN, got %v (scores %v)", s.Verdict, s.Scores)
			}
			if s.Scores[tt.family+"_count"] < 1 {
				t.Errorf("expected %s hit, got %v", tt.family, s.Scores)
			}
		})
	}
}

func TestPrivacyEngine_Allow(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	ctx := context.Background()

	safe := []string{
		"The weather today is sunny and warm",
		"for i := 0; i < 100; i++ { fmt.Println(i) }",
		"Order #12345",
		"Founded in 2024",
		"",
	}
	for _, p := range safe {
		s, err := e.Evaluate(ctx, p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Verdict != engine.VerdictAllow {
			t.Errorf("expected ALLOW for %q, got %v (%s)", p, s.Verdict, s.Details)
		}
	}
}

func TestPrivacyEngine_ScoreKeysStable(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	s, err := e.Evaluate(context.Background(), "nothing here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range DefaultScanner().PIIFamilies() {
		if _, ok := s.Scores[f+"_count"]; !ok {
			t.Errorf("missing score key %s_count", f)
		}
	}
}

func TestPrivacyEngine_Deterministic(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	payload := "mail a@b.co, call 555-123-4567, card 5500 0000 0000 0004, ssn 123-45-6789"
	first, err := e.Evaluate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, _ := e.Evaluate(context.Background(), payload)
		if again.Verdict != first.Verdict || again.Details != first.Details {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
		for k, v := range first.Scores {
			if again.Scores[k] != v {
				t.Fatalf("run %d: score %s = %v, want %v", i, k, again.Scores[k], v)
			}
		}
	}
}

func TestPrivacyEngine_CancelledContext(t *testing.T) {
	e := NewPrivacyEngine(DefaultScanner())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Evaluate(ctx, "john@example.com"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func BenchmarkPrivacyEngine(b *testing.B) {
	e := NewPrivacyEngine(DefaultScanner())
	ctx := context.Background()
	payload := "Please send the invoice to billing@example.com and call +1-555-123-4567 about card 4111 1111 1111 1111."

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e.Evaluate(ctx, payload)
	}
}
