package sampler

import (
	"context"
	"sync"

	"github.com/spanlab/span-sample-gateway/internal/core/model"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Snapshot is the watcher's externally visible state at one moment.
type Snapshot struct {
	State State
	Data  []map[string]any
	Err   error
}

func (s Snapshot) IsFetching() bool { return s.State == StateLoading }
func (s Snapshot) IsLoading() bool  { return s.State == StateLoading }

// Watcher tracks a single sample query. Observing new parameters
// cancels any in-flight fetch; at most one request is in flight.
// A disabled watcher stays idle and never touches the network.
type Watcher struct {
	client  *Client
	enabled bool

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	snap   Snapshot

	updates chan Snapshot
}

type WatcherOption func(*Watcher)

func WithEnabled(enabled bool) WatcherOption {
	return func(w *Watcher) { w.enabled = enabled }
}

func NewWatcher(c *Client, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client:  c,
		enabled: true,
		snap:    Snapshot{State: StateIdle},
		updates: make(chan Snapshot, 16),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Updates emits a snapshot on every state transition. The channel is
// buffered; slow consumers drop intermediate snapshots, never block.
func (w *Watcher) Updates() <-chan Snapshot {
	return w.updates
}

// Snapshot returns the current state.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Observe submits a query. Disabled watchers report idle and skip the
// fetch entirely. Otherwise the watcher enters loading, and any
// previous in-flight fetch is superseded.
func (w *Watcher) Observe(q model.SampleQuery) {
	w.mu.Lock()

	if !w.enabled {
		w.publishLocked(Snapshot{State: StateIdle})
		w.mu.Unlock()
		return
	}

	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.gen++
	gen := w.gen

	w.publishLocked(Snapshot{State: StateLoading})
	w.mu.Unlock()

	go func() {
		data, err := w.client.Samples(ctx, q)

		w.mu.Lock()
		defer w.mu.Unlock()
		if gen != w.gen {
			// superseded by a newer Observe
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.publishLocked(Snapshot{State: StateError, Err: err})
			return
		}
		w.publishLocked(Snapshot{State: StateSuccess, Data: data})
	}()
}

// Stop cancels any in-flight fetch and returns the watcher to idle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.gen++
	w.publishLocked(Snapshot{State: StateIdle})
}

func (w *Watcher) publishLocked(s Snapshot) {
	w.snap = s
	select {
	case w.updates <- s:
	default:
	}
}
