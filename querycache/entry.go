package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-resource-query/resource"
)

// Status is the lifecycle state of a cached query.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
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

type fetchFunc func(ctx context.Context) (any, error)

// flight is one in-progress fetch. data and err are written before done is closed.
type flight struct {
	done    chan struct{}
	version uint64
	data    any
	err     error
}

type subscriber struct {
	closed     atomic.Bool
	mu         sync.Mutex
	last       uint64
	pending    *state
	delivering bool
	deliver    func(state)
}

// send delivers st unless the subscriber is closed or already saw a newer
// state. The listener runs without s.mu held; a send issued while a delivery
// is running, including one from inside the listener, is queued and only the
// latest queued state is delivered afterwards.
func (s *subscriber) send(st state) {
	s.mu.Lock()
	if s.closed.Load() || st.seq <= s.last {
		s.mu.Unlock()
		return
	}
	s.last = st.seq
	s.pending = &st
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for s.pending != nil && !s.closed.Load() {
		next := *s.pending
		s.pending = nil
		s.mu.Unlock()
		s.deliver(next)
		s.mu.Lock()
	}
	s.pending = nil
	s.delivering = false
	s.mu.Unlock()
}

// state is the type erased view of an entry handed to subscribers.
type state struct {
	seq        uint64
	status     Status
	data       any
	hasData    bool
	err        error
	fetchedAt  time.Time
	isStale    bool
	isFetching bool
}

type entry struct {
	key      resource.Key
	storeKey string

	mu        sync.Mutex
	status    Status
	data      any
	hasData   bool
	err       error
	fetchedAt time.Time

	// invalidated is set when a mutation outdated the entry and cleared by
	// the first fetch that started after it.
	invalidated bool
	version     uint64
	seq         uint64

	flight  *flight
	fetch   fetchFunc
	subs    map[uint64]*subscriber
	nextSub uint64

	gcTimer *time.Timer
	gcGen   uint64
	evicted bool
}

func newEntry(key resource.Key, storeKey string) *entry {
	return &entry{
		key:      key,
		storeKey: storeKey,
		subs:     map[uint64]*subscriber{},
	}
}

func (e *entry) subscribers() []*subscriber {
	subs := make([]*subscriber, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	return subs
}
