package querycache

import (
	"sync"
	"sync/atomic"
	"time"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (status Status) String() string {
	switch status {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// State is a point-in-time copy of an entry, safe to hand to listeners.
type State struct {
	Key         Key
	Status      Status
	Data        any
	Err         error
	UpdatedAt   time.Time
	ErrorAt     time.Time
	Invalidated bool

	// version grows with every published transition of the entry.
	version uint64
}

type Listener func(State)

type observer struct {
	listener Listener
	detached atomic.Bool

	mu   sync.Mutex
	seen uint64
}

// deliver hands state to the listener unless a newer one already reached it.
// Deliveries to one observer never overlap.
func (obs *observer) deliver(state State) {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.detached.Load() || state.version <= obs.seen {
		return
	}
	obs.seen = state.version
	obs.listener(state)
}

type entry struct {
	key   Key
	state State
	fn    QueryFunc

	// generation moves on every invalidation; only a fetch started in the
	// current generation may store its result.
	generation uint64
	running    int
	// settled is the status to fall back to when every fetch in flight was
	// superseded by an invalidation.
	settled Status

	observers     map[uint64]*observer
	stopRefetcher func()
}

func newEntry(key Key) *entry {
	owned := append(Key(nil), key...)
	return &entry{
		key:       owned,
		state:     State{Key: owned, Status: StatusIdle, version: 1},
		observers: map[uint64]*observer{},
	}
}

// snapshotLocked publishes the current state as a new version.
func (e *entry) snapshotLocked() ([]*observer, State) {
	e.state.version++
	observers := make([]*observer, 0, len(e.observers))
	for _, obs := range e.observers {
		observers = append(observers, obs)
	}
	return observers, e.state
}

func notify(observers []*observer, state State) {
	for _, obs := range observers {
		obs.deliver(state)
	}
}
