package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFeedClosed is returned by a closed feed.
var ErrFeedClosed = errors.New("feed closed")

const (
	memFeedBuffer  = 64
	memFeedHistory = 256
)

type memSubscriber struct {
	ch     chan Record
	closed bool
}

// MemoryFeed is an in-process Feed. A subscriber that falls behind is
// disconnected rather than silently losing records, so it reconnects and
// reconciles from Latest.
type MemoryFeed struct {
	mu      sync.Mutex
	subs    map[string][]*memSubscriber
	history map[string][]Record
	closed  bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		subs:    make(map[string][]*memSubscriber),
		history: make(map[string][]Record),
	}
}

func (f *MemoryFeed) Publish(_ context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}

	h := append(f.history[rec.DatasetID], rec)
	if len(h) > memFeedHistory {
		h = h[len(h)-memFeedHistory:]
	}
	f.history[rec.DatasetID] = h

	live := f.subs[rec.DatasetID][:0]
	for _, sub := range f.subs[rec.DatasetID] {
		select {
		case sub.ch <- rec:
			live = append(live, sub)
		default:
			sub.closed = true
			close(sub.ch)
		}
	}
	f.subs[rec.DatasetID] = live
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, datasetID string) (<-chan Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}

	sub := &memSubscriber{ch: make(chan Record, memFeedBuffer)}
	f.subs[datasetID] = append(f.subs[datasetID], sub)

	go func() {
		<-ctx.Done()
		f.unsubscribe(datasetID, sub)
	}()
	return sub.ch, nil
}

func (f *MemoryFeed) unsubscribe(datasetID string, sub *memSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[datasetID]
	for i, s := range subs {
		if s == sub {
			f.subs[datasetID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Latest returns the retained records for a dataset, oldest first.
func (f *MemoryFeed) Latest(_ context.Context, datasetID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, len(f.history[datasetID]))
	copy(out, f.history[datasetID])
	return out, nil
}

// Close disconnects every subscriber.
func (f *MemoryFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, subs := range f.subs {
		for _, s := range subs {
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
		}
		delete(f.subs, id)
	}
}

// Disconnect drops every subscriber of a dataset without closing the feed.
func (f *MemoryFeed) Disconnect(datasetID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs[datasetID] {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	delete(f.subs, datasetID)
}
