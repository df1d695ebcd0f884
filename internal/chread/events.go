// Package chread reads evaluation request logs back out of ClickHouse.
package chread

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// maxRowsPerTrace bounds a trace lookup. A gateway call writes two rows.
const maxRowsPerTrace = 100

// Reader provides read access to the ClickHouse request_logs table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader wraps an open ClickHouse connection.
func NewReader(conn driver.Conn, logger *zap.Logger) *Reader {
	return &Reader{conn: conn, logger: logger}
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EngineLog is one engine's score within a phase.
type EngineLog struct {
	Engine   string `json:"engine"`
	Category string `json:"category"`
	Verdict  string `json:"verdict"`
	Details  string `json:"details,omitempty"`
	Scores   string `json:"scores"`
}

// LogRow is one evaluated phase.
type LogRow struct {
	TraceID            string      `json:"trace_id"`
	SystemID           string      `json:"system_id"`
	Timestamp          time.Time   `json:"timestamp"`
	Phase              string      `json:"phase"`
	Verdict            string      `json:"verdict"`
	ContributingEngine string      `json:"contributing_engine,omitempty"`
	Reasons            []string    `json:"reasons"`
	PayloadPreview     string      `json:"payload_preview"`
	PayloadHash        string      `json:"payload_hash"`
	LatencyMs          float32     `json:"latency_ms"`
	Engines            []EngineLog `json:"engines"`
}

type rawRow struct {
	LogRow
	names, verdicts, categories, details, scores []string
}

func (r rawRow) assemble() LogRow {
	row := r.LogRow
	row.Engines = make([]EngineLog, 0, len(r.names))
	for i, name := range r.names {
		row.Engines = append(row.Engines, EngineLog{
			Engine:   name,
			Category: at(r.categories, i),
			Verdict:  at(r.verdicts, i),
			Details:  at(r.details, i),
			Scores:   at(r.scores, i),
		})
	}
	if row.Reasons == nil {
		row.Reasons = []string{}
	}
	return row
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

// LogsByTrace returns the request logs of one trace ordered by time, or an
// empty slice if there are none.
func (r *Reader) LogsByTrace(ctx context.Context, traceID string) ([]LogRow, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT trace_id, system_id, timestamp, phase, verdict, contributing_engine, reasons, "+
			"payload_preview, payload_hash, latency_ms, "+
			"engine_names, engine_verdicts, engine_categories, engine_details, engine_scores "+
			"FROM request_logs WHERE trace_id = @trace_id "+
			"ORDER BY timestamp LIMIT @limit",
		clickhouse.Named("trace_id", traceID),
		clickhouse.Named("limit", uint32(maxRowsPerTrace)),
	)
	if err != nil {
		return nil, fmt.Errorf("LogsByTrace query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []LogRow{}
	for rows.Next() {
		var raw rawRow
		if err := rows.Scan(
			&raw.TraceID, &raw.SystemID, &raw.Timestamp, &raw.Phase, &raw.Verdict,
			&raw.ContributingEngine, &raw.Reasons, &raw.PayloadPreview, &raw.PayloadHash,
			&raw.LatencyMs,
			&raw.names, &raw.verdicts, &raw.categories, &raw.details, &raw.scores,
		); err != nil {
			return nil, fmt.Errorf("LogsByTrace scan: %w", err)
		}
		out = append(out, raw.assemble())
	}
	return out, rows.Err()
}
