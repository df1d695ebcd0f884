package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	notifyChannel = "warden_pipeline_records"
	latestLimit   = 256
)

// PostgresFeed stores records in pipeline_records and fans them out with
// LISTEN/NOTIFY. The notification payload is the dataset id; subscribers
// read new rows by sequence number. All subscriptions share one LISTEN
// connection, held only while something is subscribed.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	hub    *notifyHub
}

func NewPostgresFeed(pool *pgxpool.Pool, logger *zap.Logger) *PostgresFeed {
	f := &PostgresFeed{pool: pool, logger: logger}
	f.hub = newNotifyHub(f.listen)
	return f
}

// Close releases the LISTEN connection and closes every subscription.
func (f *PostgresFeed) Close() {
	f.hub.close()
}

// Migrate creates the records table.
func (f *PostgresFeed) Migrate(ctx context.Context) error {
	_, err := f.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_records (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL,
			dataset_id TEXT NOT NULL,
			run_id     TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT '',
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (dataset_id, run_id, kind, id, status)
		);
		CREATE INDEX IF NOT EXISTS pipeline_records_dataset_idx ON pipeline_records (dataset_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

func (f *PostgresFeed) Publish(ctx context.Context, rec Record) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	defer tx.Rollback(ctx)

	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_records (id, dataset_id, run_id, kind, status, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::jsonb, $8)
		ON CONFLICT DO NOTHING`,
		rec.ID, rec.DatasetID, rec.RunID, string(rec.Kind), rec.Status, rec.Message, payload, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("Publish: insert: %w", err)
	}
	// Delivered on commit.
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, rec.DatasetID); err != nil {
		return fmt.Errorf("Publish: notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("Publish: commit: %w", err)
	}
	return nil
}

// Subscribe delivers records for datasetID published after the call. The
// channel closes when ctx ends or the shared connection fails.
func (f *PostgresFeed) Subscribe(ctx context.Context, datasetID string) (<-chan Record, error) {
	sub, err := f.hub.register(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}
	var cursor int64
	err = f.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM pipeline_records WHERE dataset_id = $1`, datasetID).Scan(&cursor)
	if err != nil {
		f.hub.unregister(datasetID, sub)
		return nil, fmt.Errorf("Subscribe: cursor: %w", err)
	}

	out := make(chan Record, memFeedBuffer)
	go func() {
		defer close(out)
		defer f.hub.unregister(datasetID, sub)
		for {
			select {
			case <-sub.wake:
			case <-sub.dropped:
				return
			case <-ctx.Done():
				return
			}
			recs, next, err := f.since(ctx, datasetID, cursor)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Warn("pipeline feed read failed", zap.String("dataset_id", datasetID), zap.Error(err))
				}
				return
			}
			cursor = next
			for _, r := range recs {
				select {
				case out <- r:
				case <-sub.dropped:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// listen acquires a connection, hijacks it out of the pool and waits for
// notifications on it until stopped.
func (f *PostgresFeed) listen(ctx context.Context, gen uint64, h *notifyHub) (func(), error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	// The connection is in LISTEN state; never hand it back to the pool.
	pc := conn.Hijack()
	lctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer pc.Close(context.Background())
		for {
			n, err := pc.WaitForNotification(lctx)
			if err != nil {
				if lctx.Err() == nil {
					f.logger.Warn("pipeline feed connection lost", zap.Error(err))
					h.fail(gen)
				}
				return
			}
			h.notify(n.Payload)
		}
	}()
	return cancel, nil
}

func (f *PostgresFeed) since(ctx context.Context, datasetID string, cursor int64) ([]Record, int64, error) {
	rows, err := f.pool.Query(ctx, `
		SELECT seq, id, dataset_id, run_id, kind, status, message, COALESCE(payload::text, ''), created_at
		FROM pipeline_records WHERE dataset_id = $1 AND seq > $2 ORDER BY seq`, datasetID, cursor)
	if err != nil {
		return nil, cursor, err
	}
	recs, last, err := scanRecords(rows)
	if err != nil {
		return nil, cursor, err
	}
	return recs, max(last, cursor), nil
}

// Latest returns the most recent records for a dataset, oldest first.
func (f *PostgresFeed) Latest(ctx context.Context, datasetID string) ([]Record, error) {
	rows, err := f.pool.Query(ctx, `
		SELECT seq, id, dataset_id, run_id, kind, status, message, COALESCE(payload::text, ''), created_at
		FROM pipeline_records WHERE dataset_id = $1 ORDER BY seq DESC LIMIT $2`, datasetID, latestLimit)
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	recs, _, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	slices.Reverse(recs)
	return recs, nil
}

func scanRecords(rows pgx.Rows) ([]Record, int64, error) {
	defer rows.Close()
	var (
		out  []Record
		last int64
	)
	for rows.Next() {
		var (
			r       Record
			seq     int64
			kind    string
			payload string
		)
		if err := rows.Scan(&seq, &r.ID, &r.DatasetID, &r.RunID, &kind, &r.Status, &r.Message, &payload, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		r.Kind = RecordKind(kind)
		if payload != "" {
			r.Payload = []byte(payload)
		}
		last = max(last, seq)
		out = append(out, r)
	}
	return out, last, rows.Err()
}
