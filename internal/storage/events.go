package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/triage-ai/warden/internal/engine"
)

// RequestLogWriter persists evaluation results. Write() must NEVER block
// the caller.
type RequestLogWriter interface {
	Write(entry *RequestLog)
	Close()
}

// RequestLog is one evaluated phase of a gateway call: the engine scores
// and the combined verdict, keyed by trace id.
type RequestLog struct {
	TraceID            string
	SystemID           string
	Timestamp          time.Time
	Phase              string
	Verdict            string
	ContributingEngine string
	Reasons            []string
	PayloadPreview     string // First 500 chars
	PayloadHash        string // SHA256 of full payload
	PayloadSize        uint32
	EngineNames        []string
	EngineVerdicts     []string
	EngineCategories   []string
	EngineDetails      []string
	EngineScores       []string // JSON-encoded score map per engine
	LatencyMs          float32
}

// PayloadPreviewLength is the max chars stored in payload_preview.
const PayloadPreviewLength = 500

// TruncatePayload returns the first N characters (runes) of a payload for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePayload(payload string, maxLen int) string {
	runes := []rune(payload)
	if len(runes) <= maxLen {
		return payload
	}
	return string(runes[:maxLen])
}

// NewRequestLog flattens a phase result into a log row.
func NewRequestLog(traceID, systemID, payload string, res *engine.PhaseResult, at time.Time) *RequestLog {
	sum := sha256.Sum256([]byte(payload))
	entry := &RequestLog{
		TraceID:            traceID,
		SystemID:           systemID,
		Timestamp:          at,
		Phase:              res.Phase.String(),
		Verdict:            res.Combined.Verdict.String(),
		ContributingEngine: res.Combined.ContributingEngine,
		Reasons:            res.Combined.Details,
		PayloadPreview:     TruncatePayload(payload, PayloadPreviewLength),
		PayloadHash:        hex.EncodeToString(sum[:]),
		PayloadSize:        uint32(len(payload)),
		LatencyMs:          float32(res.Latency.Microseconds()) / 1000,
	}
	if entry.Reasons == nil {
		entry.Reasons = []string{}
	}

	for _, s := range res.Scores {
		scores, err := json.Marshal(s.Scores)
		if err != nil {
			scores = []byte("{}")
		}
		entry.EngineNames = append(entry.EngineNames, s.Engine)
		entry.EngineVerdicts = append(entry.EngineVerdicts, s.Verdict.String())
		entry.EngineCategories = append(entry.EngineCategories, s.Category.String())
		entry.EngineDetails = append(entry.EngineDetails, s.Details)
		entry.EngineScores = append(entry.EngineScores, string(scores))
	}
	return entry
}
