package pipeline

import (
	"context"
	"sync"
)

// listenFunc starts the shared listener. It must deliver each notification
// payload to h.notify and call h.fail(gen) if the listener dies on its own.
// The returned stop func ends the listener. It runs with the hub locked.
type listenFunc func(ctx context.Context, gen uint64, h *notifyHub) (stop func(), err error)

// hubSub is one subscription to a dataset. wake is signalled on every
// notification for the dataset; dropped is closed if the listener is lost.
type hubSub struct {
	wake    chan struct{}
	dropped chan struct{}
}

// notifyHub multiplexes every dataset subscription onto one listener. The
// listener starts with the first subscription and stops with the last.
type notifyHub struct {
	listen listenFunc

	mu      sync.Mutex
	subs    map[string]map[*hubSub]struct{}
	stop    func()
	gen     uint64
	running bool
	closed  bool
}

func newNotifyHub(listen listenFunc) *notifyHub {
	return &notifyHub{listen: listen, subs: make(map[string]map[*hubSub]struct{})}
}

// register adds a subscription, starting the listener if needed. The
// listener is running before register returns.
func (h *notifyHub) register(ctx context.Context, datasetID string) (*hubSub, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrFeedClosed
	}
	if !h.running {
		h.gen++
		stop, err := h.listen(ctx, h.gen, h)
		if err != nil {
			return nil, err
		}
		h.stop = stop
		h.running = true
	}
	sub := &hubSub{wake: make(chan struct{}, 1), dropped: make(chan struct{})}
	set, ok := h.subs[datasetID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[datasetID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// unregister removes a subscription and stops the listener once nothing
// is subscribed. Subscriptions already dropped are ignored.
func (h *notifyHub) unregister(datasetID string, sub *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[datasetID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, datasetID)
	}
	if len(h.subs) == 0 && h.running {
		h.halt()
	}
}

// notify wakes every subscription of datasetID. Wakes coalesce.
func (h *notifyHub) notify(datasetID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[datasetID] {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// fail drops every subscription after the listener of generation gen died.
// A late failure from a listener that was already replaced is ignored.
func (h *notifyHub) fail(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running || gen != h.gen {
		return
	}
	h.running = false
	h.stop = nil
	h.dropAll()
}

// close stops the listener and drops every subscription.
func (h *notifyHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.running {
		h.halt()
	}
	h.dropAll()
}

func (h *notifyHub) halt() {
	if h.stop != nil {
		h.stop()
	}
	h.stop = nil
	h.running = false
}

func (h *notifyHub) dropAll() {
	for id, set := range h.subs {
		for sub := range set {
			close(sub.dropped)
		}
		delete(h.subs, id)
	}
}
