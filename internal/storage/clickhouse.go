package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/metrics"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

const createRequestLogs = `
	CREATE TABLE IF NOT EXISTS request_logs (
		trace_id            String,
		system_id           String,
		timestamp           DateTime64(3),
		phase               LowCardinality(String),
		verdict             LowCardinality(String),
		contributing_engine String,
		reasons             Array(String),
		payload_preview     String,
		payload_hash        String,
		payload_size        UInt32,
		engine_names        Array(String),
		engine_verdicts     Array(String),
		engine_categories   Array(String),
		engine_details      Array(String),
		engine_scores       Array(String),
		latency_ms          Float32
	) ENGINE = MergeTree
	ORDER BY (trace_id, timestamp)`

// Open parses dsn and returns a pinged ClickHouse connection.
func Open(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate creates the request_logs table if it does not exist.
func Migrate(ctx context.Context, conn driver.Conn) error {
	return conn.Exec(ctx, createRequestLogs)
}

// ClickHouseWriter writes request logs to ClickHouse asynchronously.
// Write() is non-blocking; entries are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *RequestLog
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClickHouseWriter starts the background flush loop over conn.
func NewClickHouseWriter(conn driver.Conn, m *metrics.Metrics, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *RequestLog, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
		metrics: m,
	}

	go w.flushLoop()
	return w
}

// Write queues an entry for async insertion.
// Non-blocking: drops the entry if the buffer is full.
func (w *ClickHouseWriter) Write(entry *RequestLog) {
	select {
	case w.buffer <- entry:
	default:
		w.metrics.IncEventsDropped()
		w.logger.Warn("clickhouse buffer full, dropping request log",
			zap.String("trace_id", entry.TraceID),
			zap.String("phase", entry.Phase),
		)
	}
}

// Close signals the flush loop to drain remaining entries and waits for it
// to finish (up to drainTimeout). Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*RequestLog, 0, flushBatch)

	for {
		select {
		case entry := <-w.buffer:
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case entry := <-w.buffer:
					batch = append(batch, entry)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(entries []*RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO request_logs (
			trace_id, system_id, timestamp, phase,
			verdict, contributing_engine, reasons,
			payload_preview, payload_hash, payload_size,
			engine_names, engine_verdicts, engine_categories, engine_details, engine_scores,
			latency_ms
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range entries {
		if err := batch.Append(
			e.TraceID,
			e.SystemID,
			e.Timestamp,
			e.Phase,
			e.Verdict,
			e.ContributingEngine,
			e.Reasons,
			e.PayloadPreview,
			e.PayloadHash,
			e.PayloadSize,
			e.EngineNames,
			e.EngineVerdicts,
			e.EngineCategories,
			e.EngineDetails,
			e.EngineScores,
			e.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append request log failed",
				zap.String("trace_id", e.TraceID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(entries)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback RequestLogWriter for local development.
// It logs entries as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs entries to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(entry *RequestLog) {
	w.logger.Info("request_log",
		zap.String("trace_id", entry.TraceID),
		zap.String("system_id", entry.SystemID),
		zap.String("phase", entry.Phase),
		zap.String("verdict", entry.Verdict),
		zap.String("contributing_engine", entry.ContributingEngine),
		zap.Strings("reasons", entry.Reasons),
		zap.Strings("engine_names", entry.EngineNames),
		zap.Strings("engine_verdicts", entry.EngineVerdicts),
		zap.Float32("latency_ms", entry.LatencyMs),
		zap.String("payload_hash", entry.PayloadHash),
	)
}

func (w *LogWriter) Close() {}
