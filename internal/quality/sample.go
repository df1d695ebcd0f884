package quality

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrDataRequired is returned when no real sample can be obtained. Quality
// scores are never computed over synthetic data.
var ErrDataRequired = errors.New("a real data sample is required")

// DefaultMaxSampleRows caps how many rows are read from a stored sample.
const DefaultMaxSampleRows = 10_000

// Sample is a resolved dataset sample.
type Sample struct {
	Rows         []Row
	Source       string
	LastModified time.Time
}

// SampleSource fetches a stored sample for a dataset. Implementations
// return ErrDataRequired when the dataset has no sample.
type SampleSource interface {
	FetchSample(ctx context.Context, datasetID string) (*Sample, error)
}

// ResolveSample prefers the inline rows; otherwise it asks source. A nil
// inline slice (as opposed to an empty one) means "not provided".
func ResolveSample(ctx context.Context, datasetID string, inline []Row, source SampleSource) (*Sample, error) {
	if inline != nil {
		return &Sample{Rows: inline, Source: "inline"}, nil
	}
	if source == nil {
		return nil, ErrDataRequired
	}
	s, err := source.FetchSample(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrDataRequired
	}
	return s, nil
}

// DecodeCSV reads a header row followed by data rows. Empty cells become nil.
func DecodeCSV(r io.Reader, maxRows int) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return []Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	rows := []Row{}
	for maxRows <= 0 || len(rows) < maxRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(rows)+1, err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) && strings.TrimSpace(rec[i]) != "" {
				row[col] = rec[i]
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DecodeJSON accepts either a JSON array of objects or newline-delimited
// objects.
func DecodeJSON(r io.Reader, maxRows int) ([]Row, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []Row{}, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()
	rows := []Row{}

	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read json array: %w", err)
		}
		for dec.More() && (maxRows <= 0 || len(rows) < maxRows) {
			var row Row
			if err := dec.Decode(&row); err != nil {
				return nil, fmt.Errorf("decode json row %d: %w", len(rows)+1, err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	for maxRows <= 0 || len(rows) < maxRows {
		var row Row
		err := dec.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode jsonl row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
