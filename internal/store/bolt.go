package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/triage-ai/warden/internal/escalation"
	"github.com/triage-ai/warden/internal/quality"
)

var (
	bucketRuns        = []byte("quality_runs")
	bucketContracts   = []byte("quality_contracts")
	bucketReviewItems = []byte("review_items")
	bucketCorrelation = []byte("review_items_by_correlation")
	bucketIncidents   = []byte("incidents")
	bucketEdges       = []byte("provenance_edges")
)

// BoltStore is a bbolt-backed store for single-node deployments without
// PostgreSQL. It implements the same interfaces as Store.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketContracts, bucketReviewItems, bucketCorrelation, bucketIncidents, bucketEdges} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getJSON[T any](b *bolt.Bucket, key string) (*T, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &v, nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func (s *BoltStore) InsertQualityRun(_ context.Context, run *quality.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b.Get([]byte(run.ID)) != nil {
			return fmt.Errorf("InsertQualityRun %s: %w", run.ID, ErrExists)
		}
		return putJSON(b, run.ID, run)
	})
}

func (s *BoltStore) GetQualityRun(_ context.Context, id string) (*quality.Run, error) {
	var run *quality.Run
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		run, err = getJSON[quality.Run](tx.Bucket(bucketRuns), id)
		return err
	})
	return run, err
}

// contractKey sorts versions of one dataset in ascending order.
func contractKey(datasetID string, version int) []byte {
	return []byte(fmt.Sprintf("%s\x00%010d", datasetID, version))
}

func (s *BoltStore) PutContract(_ context.Context, c *quality.Contract) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContracts)
		key := contractKey(c.DatasetID, c.Version)
		if b.Get(key) != nil {
			return fmt.Errorf("PutContract %s v%d: %w", c.DatasetID, c.Version, ErrExists)
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("PutContract: %w", err)
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetContract(_ context.Context, datasetID string) (*quality.Contract, error) {
	var out *quality.Contract
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(datasetID + "\x00")
		c := tx.Bucket(bucketContracts).Cursor()
		var last []byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			last = v
		}
		if last == nil {
			return nil
		}
		contract, err := decodeContract(last)
		out = contract
		return err
	})
	return out, err
}

func (s *BoltStore) ScheduledContracts(_ context.Context) ([]*quality.Contract, error) {
	latest := map[string]*quality.Contract{}
	var order []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContracts).ForEach(func(_, v []byte) error {
			c, err := decodeContract(v)
			if err != nil {
				return err
			}
			if _, seen := latest[c.DatasetID]; !seen {
				order = append(order, c.DatasetID)
			}
			latest[c.DatasetID] = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var out []*quality.Contract
	for _, id := range order {
		if c := latest[id]; c.Schedule != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func correlationKey(source escalation.Source, correlationID string) string {
	return string(source) + "\x00" + correlationID
}

func (s *BoltStore) InsertReviewItem(_ context.Context, item *escalation.ReviewItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketCorrelation)
		ck := []byte(correlationKey(item.Source, item.CorrelationID))
		if idx.Get(ck) != nil {
			return fmt.Errorf("InsertReviewItem %s: %w", item.CorrelationID, escalation.ErrDuplicate)
		}
		b := tx.Bucket(bucketReviewItems)
		if b.Get([]byte(item.ID)) != nil {
			return fmt.Errorf("InsertReviewItem %s: %w", item.ID, escalation.ErrDuplicate)
		}
		if err := idx.Put(ck, []byte(item.ID)); err != nil {
			return err
		}
		return putJSON(b, item.ID, item)
	})
}

func (s *BoltStore) GetReviewItem(_ context.Context, id string) (*escalation.ReviewItem, error) {
	var item *escalation.ReviewItem
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		item, err = getJSON[escalation.ReviewItem](tx.Bucket(bucketReviewItems), id)
		return err
	})
	return item, err
}

func (s *BoltStore) GetReviewItemByCorrelation(_ context.Context, source escalation.Source, correlationID string) (*escalation.ReviewItem, error) {
	var item *escalation.ReviewItem
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		id := tx.Bucket(bucketCorrelation).Get([]byte(correlationKey(source, correlationID)))
		if id == nil {
			return nil
		}
		item, err = getJSON[escalation.ReviewItem](tx.Bucket(bucketReviewItems), string(id))
		return err
	})
	return item, err
}

func (s *BoltStore) UpdateReviewItemStatus(_ context.Context, id string, status escalation.Status, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReviewItems)
		item, err := getJSON[escalation.ReviewItem](b, id)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("UpdateReviewItemStatus %s: not found", id)
		}
		if err := stamp(status, at, &item.AcknowledgedAt, &item.ResolvedAt); err != nil {
			return err
		}
		item.Status = status
		return putJSON(b, id, item)
	})
}

func (s *BoltStore) InsertIncident(_ context.Context, inc *escalation.Incident) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIncidents)
		if b.Get([]byte(inc.ID)) != nil {
			return fmt.Errorf("InsertIncident %s: %w", inc.ID, escalation.ErrDuplicate)
		}
		return putJSON(b, inc.ID, inc)
	})
}

func (s *BoltStore) GetIncident(_ context.Context, id string) (*escalation.Incident, error) {
	var inc *escalation.Incident
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		inc, err = getJSON[escalation.Incident](tx.Bucket(bucketIncidents), id)
		return err
	})
	return inc, err
}

func (s *BoltStore) UpdateIncidentStatus(_ context.Context, id string, status escalation.Status, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIncidents)
		inc, err := getJSON[escalation.Incident](b, id)
		if err != nil {
			return err
		}
		if inc == nil {
			return fmt.Errorf("UpdateIncidentStatus %s: not found", id)
		}
		if err := stamp(status, at, &inc.AcknowledgedAt, &inc.ResolvedAt); err != nil {
			return err
		}
		inc.Status = status
		return putJSON(b, id, inc)
	})
}

func (s *BoltStore) InsertProvenanceEdge(_ context.Context, e *escalation.ProvenanceEdge) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketEdges), e.ID, e)
	})
}

// ProvenanceEdges returns every edge pointing at the given entity.
func (s *BoltStore) ProvenanceEdges(_ context.Context, toType, toID string) ([]*escalation.ProvenanceEdge, error) {
	var out []*escalation.ProvenanceEdge
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEdges).ForEach(func(k, v []byte) error {
			var e escalation.ProvenanceEdge
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal edge %s: %w", k, err)
			}
			if e.ToType == toType && e.ToID == toID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func stamp(status escalation.Status, at time.Time, ack, resolved **time.Time) error {
	if _, err := statusColumn(status); err != nil {
		return err
	}
	t := at
	if status == escalation.StatusAcknowledged {
		*ack = &t
	} else {
		*resolved = &t
	}
	return nil
}
