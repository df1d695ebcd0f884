package quality

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

type evidencePayload struct {
	Metrics   map[Dimension]evidenceMetric `json:"metrics"`
	Timestamp string                       `json:"timestamp"`
}

type evidenceMetric struct {
	Score    float64 `json:"score"`
	Computed bool    `json:"computed"`
}

// EvidenceHash is a SHA-256 digest over the dimension scores and the
// computation timestamp. encoding/json sorts map keys, so the digest is
// independent of map iteration order.
func EvidenceHash(dims map[Dimension]DimensionScore, ts time.Time) (string, error) {
	payload := evidencePayload{
		Metrics:   make(map[Dimension]evidenceMetric, len(dims)),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
	for d, s := range dims {
		payload.Metrics[d] = evidenceMetric{Score: float64(s.Score), Computed: s.Computed}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyEvidence recomputes the digest and compares it to hash.
func VerifyEvidence(hash string, dims map[Dimension]DimensionScore, ts time.Time) bool {
	got, err := EvidenceHash(dims, ts)
	return err == nil && got == hash
}
