package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig locates the bucket holding dataset samples and reports.
type ObjectStoreConfig struct {
	Endpoint  string `validate:"required"`
	AccessKey string `validate:"required"`
	SecretKey string `validate:"required"`
	Bucket    string `validate:"required"`
	UseSSL    bool
	MaxRows   int
}

// NewMinIOClient builds a MinIO client with static credentials.
func NewMinIOClient(cfg ObjectStoreConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          64,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	})
}

// sampleKeys are tried in order under datasets/<dataset_id>/.
var sampleKeys = []string{"sample.json", "sample.jsonl", "sample.csv"}

// ObjectStore reads dataset samples from, and writes run reports to, a
// MinIO bucket.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	maxRows int
}

func NewObjectStore(client *minio.Client, bucket string, maxRows int) *ObjectStore {
	if maxRows <= 0 {
		maxRows = DefaultMaxSampleRows
	}
	return &ObjectStore{client: client, bucket: bucket, maxRows: maxRows}
}

// FetchSample implements SampleSource.
func (s *ObjectStore) FetchSample(ctx context.Context, datasetID string) (*Sample, error) {
	for _, name := range sampleKeys {
		key := path.Join("datasets", datasetID, name)

		statCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		info, err := s.client.StatObject(statCtx, s.bucket, key, minio.StatObjectOptions{})
		cancel()
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", key, err)
		}

		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		rows, err := decodeByExt(obj, name, s.maxRows)
		obj.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return &Sample{
			Rows:         rows,
			Source:       "s3://" + s.bucket + "/" + key,
			LastModified: info.LastModified,
		}, nil
	}
	return nil, ErrDataRequired
}

func decodeByExt(r io.Reader, name string, maxRows int) ([]Row, error) {
	if path.Ext(name) == ".csv" {
		return DecodeCSV(r, maxRows)
	}
	return DecodeJSON(r, maxRows)
}

// PutReport stores a run as a JSON artifact and returns its object key.
func (s *ObjectStore) PutReport(ctx context.Context, run *Run) (string, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := path.Join("reports", run.DatasetID, run.ID+".json")

	putCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err = s.client.PutObject(putCtx, s.bucket, key, bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}
