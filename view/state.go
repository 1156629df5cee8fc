package view

import (
	"sync"

	"github.com/goliatone/go-resource-query/querycache"
	"github.com/goliatone/go-resource-query/resource"
)

// Kind is what a bound view should render.
type Kind int

const (
	KindIdle Kind = iota
	KindLoading
	KindEmpty
	KindError
	KindLoaded
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindLoading:
		return "loading"
	case KindEmpty:
		return "empty"
	case KindError:
		return "error"
	case KindLoaded:
		return "loaded"
	}
	return "unknown"
}

// State is the render state of a view. Refreshing is set while a refetch
// runs behind data that is still shown.
type State struct {
	Kind       Kind
	Refreshing bool
	Err        error
	// Message is the display text of Err.
	Message string
}

func errorState(err error) State {
	st := State{Kind: KindError, Err: err}
	if ge := resource.AsError(err); ge != nil {
		st.Message = ge.Message
	}
	return st
}

// binding holds one live subscription and drops results from replaced or
// closed subscriptions. onChange calls are serialized; a state produced while
// one runs is queued and only the latest is delivered.
type binding[D any] struct {
	mu          sync.Mutex
	gen         uint64
	unsubscribe func()
	closed      bool
	snap        querycache.Snapshot[D]
	onChange    func(State)
	render      func(querycache.Snapshot[D]) State

	pending     *State
	pendingGen  uint64
	dispatching bool
	idle        *sync.Cond
}

// bind replaces the current subscription with the one opened by subscribe.
func (b *binding[D]) bind(subscribe func(listener func(querycache.Snapshot[D])) func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.gen++
	gen := b.gen
	old := b.unsubscribe
	b.unsubscribe = nil
	b.snap = querycache.Snapshot[D]{}
	b.mu.Unlock()

	if old != nil {
		old()
	}

	unsubscribe := subscribe(func(s querycache.Snapshot[D]) {
		b.apply(gen, s)
	})

	b.mu.Lock()
	if b.closed || b.gen != gen {
		b.mu.Unlock()
		unsubscribe()
		return
	}
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
}

func (b *binding[D]) apply(gen uint64, s querycache.Snapshot[D]) {
	b.mu.Lock()
	if b.closed || b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.snap = s
	if b.onChange == nil {
		b.mu.Unlock()
		return
	}
	st := b.render(s)
	b.pending, b.pendingGen = &st, gen
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true

	for b.pending != nil && !b.closed {
		next, nextGen := *b.pending, b.pendingGen
		b.pending = nil
		if nextGen != b.gen {
			continue
		}
		b.mu.Unlock()
		b.onChange(next)
		b.mu.Lock()
	}
	b.pending = nil
	b.dispatching = false
	b.idleCond().Broadcast()
	b.mu.Unlock()
}

// idleCond returns the condition signalled when a dispatch loop ends. The
// caller holds b.mu.
func (b *binding[D]) idleCond() *sync.Cond {
	if b.idle == nil {
		b.idle = sync.NewCond(&b.mu)
	}
	return b.idle
}

func (b *binding[D]) state() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.render(b.snap)
}

func (b *binding[D]) snapshot() querycache.Snapshot[D] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// close drops the subscription and waits for a running onChange call to
// return, so no callback runs once close has returned. It must not be called
// from onChange.
func (b *binding[D]) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	b.mu.Lock()
	for b.dispatching {
		b.idleCond().Wait()
	}
	b.mu.Unlock()
}

// renderSnapshot maps a snapshot to a render state; empty reports whether
// loaded data should render as empty.
func renderSnapshot[D any](s querycache.Snapshot[D], empty func(D) bool) State {
	switch {
	case s.Status == querycache.StatusError:
		return errorState(s.Err)
	case s.HasData:
		kind := KindLoaded
		if empty != nil && empty(s.Data) {
			kind = KindEmpty
		}
		return State{Kind: kind, Refreshing: s.IsFetching}
	case s.Status == querycache.StatusIdle:
		return State{Kind: KindIdle}
	default:
		return State{Kind: KindLoading}
	}
}
