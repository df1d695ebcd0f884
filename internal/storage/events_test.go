package storage

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/warden/internal/engine"
)

func TestTruncatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		max     int
		want    string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii", "hello world", 5, "hello"},
		{"multibyte", "héllo wörld", 4, "héll"},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncatePayload(tt.payload, tt.max); got != tt.want {
				t.Errorf("TruncatePayload(%q, %d) = %q, want %q", tt.payload, tt.max, got, tt.want)
			}
		})
	}
}

func TestNewRequestLog(t *testing.T) {
	scores := []*engine.EngineScore{
		{Engine: "privacy", Category: engine.CategoryPrivacy, Scores: map[string]float64{"pii": 1}, Verdict: engine.VerdictBlock, Details: "credit card"},
		{Engine: "safety", Category: engine.CategorySafety, Scores: map[string]float64{}, Verdict: engine.VerdictAllow},
	}
	res := &engine.PhaseResult{
		Phase:    engine.PhaseInput,
		Scores:   scores,
		Combined: engine.Combine(scores),
		Latency:  1500 * time.Microsecond,
	}
	at := time.Unix(1700000000, 0).UTC()
	payload := strings.Repeat("x", PayloadPreviewLength+20)

	entry := NewRequestLog("trace-1", "sys-1", payload, res, at)

	if entry.Phase != "input" || entry.Verdict != "BLOCK" {
		t.Fatalf("phase/verdict = %s/%s", entry.Phase, entry.Verdict)
	}
	if entry.ContributingEngine != "privacy" {
		t.Errorf("contributing engine = %q", entry.ContributingEngine)
	}
	if len([]rune(entry.PayloadPreview)) != PayloadPreviewLength {
		t.Errorf("preview length = %d", len(entry.PayloadPreview))
	}
	if entry.PayloadSize != uint32(len(payload)) {
		t.Errorf("payload size = %d", entry.PayloadSize)
	}
	if len(entry.PayloadHash) != 64 {
		t.Errorf("payload hash = %q", entry.PayloadHash)
	}
	if got := strings.Join(entry.EngineCategories, ","); got != "privacy,safety" {
		t.Errorf("categories = %s", got)
	}
	if entry.EngineScores[0] != `{"pii":1}` {
		t.Errorf("scores = %s", entry.EngineScores[0])
	}
	if entry.LatencyMs != 1.5 {
		t.Errorf("latency = %v", entry.LatencyMs)
	}
}

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := NewLogWriter(zap.New(core))

	w.Write(&RequestLog{TraceID: "trace-1", Phase: "output", Verdict: "ALLOW"})
	w.Close()

	entries := logs.FilterMessage("request_log").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["trace_id"]; got != "trace-1" {
		t.Errorf("trace_id = %v", got)
	}
}
