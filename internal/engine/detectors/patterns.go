package detectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Family names double as score-map prefixes ("<family>_count").
const (
	FamilyCreditCard = "creditCard"
	FamilySSN        = "ssn"
	FamilyAadhaar    = "aadhaar"
	FamilyPAN        = "pan"
	FamilyIBAN       = "iban"
	FamilyEmail      = "email"
	FamilyPhone      = "phone"

	FamilyPrivateKey   = "privateKey"
	FamilyJWT          = "jwt"
	FamilyAWSAccessKey = "awsAccessKey"
	FamilyAPIKey       = "apiKey"
	FamilyBearerToken  = "bearerToken"
	FamilyInternalURL  = "internalUrl"
)

// Harmful keyword categories.
const (
	KeywordSelfHarm = "self_harm"
	KeywordViolence = "violence"
	KeywordHate     = "hate"
)

// PatternSpec is one regular expression belonging to a detector family.
type PatternSpec struct {
	Family  string `yaml:"family" json:"family"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Detail  string `yaml:"detail,omitempty" json:"detail,omitempty"`
}

// KeywordSpec is one harmful phrase matched case-insensitively.
type KeywordSpec struct {
	Phrase   string `yaml:"phrase" json:"phrase"`
	Category string `yaml:"category" json:"category"`
}

// PatternConfig holds the declarative detector tables. Order matters:
// patterns run in table order and each match is masked before the next
// pattern runs, so a substring counts toward at most one family.
type PatternConfig struct {
	PII               []PatternSpec `yaml:"pii" json:"pii"`
	Secrets           []PatternSpec `yaml:"secrets" json:"secrets"`
	SensitiveFamilies []string      `yaml:"sensitive_families" json:"sensitive_families"`
	HarmfulKeywords   []KeywordSpec `yaml:"harmful_keywords" json:"harmful_keywords"`
}

// DefaultConfig returns the built-in detector tables.
func DefaultConfig() PatternConfig {
	return PatternConfig{
		PII: []PatternSpec{
			// Payment cards first: 16-digit runs would otherwise look like national IDs.
			{FamilyCreditCard, `\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, "credit card (Visa)"},
			{FamilyCreditCard, `\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, "credit card (Mastercard)"},
			{FamilyCreditCard, `\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`, "credit card (Amex)"},
			{FamilyCreditCard, `\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, "credit card (Discover)"},

			// SSN: 123-45-6789 or 123 45 6789
			{FamilySSN, `\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`, "US Social Security Number"},
			// Aadhaar: 12 digits, first digit 2-9, optionally grouped 4-4-4
			{FamilyAadhaar, `\b[2-9]\d{3}[-\s]?\d{4}[-\s]?\d{4}\b`, "Aadhaar number"},
			// PAN: ABCDE1234F
			{FamilyPAN, `\b[A-Z]{5}\d{4}[A-Z]\b`, "Indian PAN"},

			{FamilyIBAN, `\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`, "IBAN"},
			{FamilyEmail, `\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`, "email address"},

			// India mobile: +91 98765 43210 / 9876543210
			{FamilyPhone, `(?:\+91[-\s]?)?\b[6-9]\d{4}[-\s]?\d{5}\b`, "phone number (IN)"},
			// US: (123) 456-7890, 123-456-7890, +1-123-456-7890
			{FamilyPhone, `(?:\+1[-\s]?)?\(?\b\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`, "phone number (US)"},
			{FamilyPhone, `\+\d{1,3}[-\s]?\d{1,4}[-\s]?\d{3,4}[-\s]?\d{3,4}\b`, "phone number (international)"},
		},
		Secrets: []PatternSpec{
			{FamilyPrivateKey, `-----BEGIN (?:[A-Z]+ )*PRIVATE KEY(?: BLOCK)?-----`, "PEM private key"},
			{FamilyJWT, `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`, "JSON Web Token"},
			{FamilyAWSAccessKey, `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`, "AWS access key id"},
			{FamilyAPIKey, `\bsk-(?:proj-|live-|test-)?[A-Za-z0-9_\-]{20,}`, "API key (sk-)"},
			{FamilyAPIKey, `\b[sr]k_(?:live|test)_[A-Za-z0-9]{16,}`, "API key (Stripe)"},
			{FamilyAPIKey, `\bgh[pousr]_[A-Za-z0-9]{36,}\b`, "API key (GitHub)"},
			{FamilyAPIKey, `\bxox[abprs]-[A-Za-z0-9-]{10,}`, "API key (Slack)"},
			{FamilyAPIKey, `\bAIza[0-9A-Za-z_\-]{35}`, "API key (Google)"},
			{FamilyBearerToken, `(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`, "bearer token"},
			{FamilyInternalURL, `(?i)\bhttps?://(?:localhost|127\.0\.0\.1|10(?:\.\d{1,3}){3}|192\.168(?:\.\d{1,3}){2}|172\.(?:1[6-9]|2\d|3[01])(?:\.\d{1,3}){2}|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:internal|corp|local|intranet|lan))\b`, "internal URL"},
		},
		SensitiveFamilies: []string{FamilySSN, FamilyAadhaar, FamilyPAN, FamilyCreditCard},
		HarmfulKeywords: []KeywordSpec{
			{"kill myself", KeywordSelfHarm},
			{"end my life", KeywordSelfHarm},
			{"commit suicide", KeywordSelfHarm},
			{"want to die", KeywordSelfHarm},
			{"hurt myself", KeywordSelfHarm},
			{"self-harm", KeywordSelfHarm},
			{"suicide method", KeywordSelfHarm},
			{"build a bomb", KeywordViolence},
			{"make a bomb", KeywordViolence},
			{"kill someone", KeywordViolence},
			{"murder someone", KeywordViolence},
			{"mass shooting", KeywordViolence},
			{"shoot up the", KeywordViolence},
			{"make a weapon", KeywordViolence},
			{"ethnic cleansing", KeywordHate},
			{"racial purity", KeywordHate},
			{"inferior race", KeywordHate},
			{"subhuman", KeywordHate},
			{"genocide", KeywordHate},
		},
	}
}

type compiledPattern struct {
	family string
	re     *regexp.Regexp
	detail string
}

// Scanner is a compiled PatternConfig. It holds no mutable state and is
// safe for concurrent use.
type Scanner struct {
	pii            []compiledPattern
	piiFamilies    []string
	secrets        []compiledPattern
	secretFamilies []string
	sensitive      map[string]bool
	keywords       []KeywordSpec
	categories     []string
}

var defaultScanner = mustCompile(DefaultConfig())

// DefaultScanner returns the scanner built from DefaultConfig.
func DefaultScanner() *Scanner {
	return defaultScanner
}

func mustCompile(cfg PatternConfig) *Scanner {
	s, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Compile validates and compiles a pattern configuration.
func Compile(cfg PatternConfig) (*Scanner, error) {
	s := &Scanner{sensitive: make(map[string]bool, len(cfg.SensitiveFamilies))}

	var err error
	if s.pii, s.piiFamilies, err = compileTable("pii", cfg.PII); err != nil {
		return nil, err
	}
	if s.secrets, s.secretFamilies, err = compileTable("secrets", cfg.Secrets); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(s.piiFamilies))
	for _, f := range s.piiFamilies {
		known[f] = true
	}
	for _, f := range cfg.SensitiveFamilies {
		if !known[f] {
			return nil, fmt.Errorf("sensitive family %q has no pii pattern", f)
		}
		s.sensitive[f] = true
	}

	seenCat := map[string]bool{}
	for i, k := range cfg.HarmfulKeywords {
		phrase := strings.ToLower(strings.TrimSpace(k.Phrase))
		if phrase == "" {
			return nil, fmt.Errorf("harmful_keywords[%d]: empty phrase", i)
		}
		if k.Category == "" {
			return nil, fmt.Errorf("harmful_keywords[%d]: empty category", i)
		}
		s.keywords = append(s.keywords, KeywordSpec{Phrase: phrase, Category: k.Category})
		if !seenCat[k.Category] {
			seenCat[k.Category] = true
			s.categories = append(s.categories, k.Category)
		}
	}

	return s, nil
}

func compileTable(table string, specs []PatternSpec) ([]compiledPattern, []string, error) {
	out := make([]compiledPattern, 0, len(specs))
	var families []string
	seen := map[string]bool{}
	for i, p := range specs {
		if p.Family == "" {
			return nil, nil, fmt.Errorf("%s[%d]: empty family", table, i)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("%s[%d] (%s): %w", table, i, p.Family, err)
		}
		out = append(out, compiledPattern{family: p.Family, re: re, detail: p.Detail})
		if !seen[p.Family] {
			seen[p.Family] = true
			families = append(families, p.Family)
		}
	}
	return out, families, nil
}

// PIIFamilies returns the PII family names in table order.
func (s *Scanner) PIIFamilies() []string { return s.piiFamilies }

// SecretFamilies returns the secret family names in table order.
func (s *Scanner) SecretFamilies() []string { return s.secretFamilies }

// IsSensitive reports whether a PII family triggers a block on its own.
func (s *Scanner) IsSensitive(family string) bool { return s.sensitive[family] }

// KeywordCount returns the size of the harmful keyword list.
func (s *Scanner) KeywordCount() int { return len(s.keywords) }

// KeywordCategories returns the keyword categories in table order.
func (s *Scanner) KeywordCategories() []string { return s.categories }

// CountPII returns the match count for every PII family (zero included).
func (s *Scanner) CountPII(ctx context.Context, text string) (map[string]int, error) {
	return count(ctx, s.pii, s.piiFamilies, text)
}

// CountSecrets returns the match count for every secret family (zero included).
func (s *Scanner) CountSecrets(ctx context.Context, text string) (map[string]int, error) {
	return count(ctx, s.secrets, s.secretFamilies, text)
}

// MatchKeywords returns the harmful keywords contained in text, in table order.
func (s *Scanner) MatchKeywords(ctx context.Context, text string) ([]KeywordSpec, error) {
	lower := strings.ToLower(text)
	var matched []KeywordSpec
	for _, k := range s.keywords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(lower, k.Phrase) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

func count(ctx context.Context, patterns []compiledPattern, families []string, text string) (map[string]int, error) {
	counts := make(map[string]int, len(families))
	for _, f := range families {
		counts[f] = 0
	}

	buf := []byte(text)
	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		locs := p.re.FindAllIndex(buf, -1)
		counts[p.family] += len(locs)
		for _, loc := range locs {
			mask(buf[loc[0]:loc[1]])
		}
	}
	return counts, nil
}

// mask overwrites a matched span with a non-word byte so later patterns
// neither match inside it nor gain new word boundaries from it.
func mask(b []byte) {
	for i := range b {
		b[i] = '#'
	}
}

// familiesWithHits returns the families with a non-zero count, preserving order.
func familiesWithHits(families []string, counts map[string]int, keep func(string) bool) []string {
	var out []string
	for _, f := range families {
		if counts[f] > 0 && (keep == nil || keep(f)) {
			out = append(out, f)
		}
	}
	return out
}
