package view

import (
	"github.com/goliatone/go-resource-query/querycache"
)

// DetailSource serves single record reads of one resource.
type DetailSource[T any] interface {
	SubscribeDetail(id string, listener func(querycache.Snapshot[T])) (unsubscribe func())
	RefetchDetail(id string)
}

// Detail is the state of a create/edit view. An empty id renders Idle and
// issues no request, which is the create case.
type Detail[T any] struct {
	src DetailSource[T]
	id  string

	b binding[T]
}

// DetailOption configures a Detail.
type DetailOption[T any] func(*Detail[T])

// WithDetailChange registers a callback for every render state change.
func WithDetailChange[T any](fn func(State)) DetailOption[T] {
	return func(d *Detail[T]) { d.b.onChange = fn }
}

// NewDetail binds a detail view for id to src.
func NewDetail[T any](src DetailSource[T], id string, opts ...DetailOption[T]) *Detail[T] {
	d := &Detail[T]{src: src, id: id}
	for _, opt := range opts {
		opt(d)
	}
	d.b.render = func(s querycache.Snapshot[T]) State {
		return renderSnapshot[T](s, nil)
	}

	d.bind()
	return d
}

func (d *Detail[T]) bind() {
	d.b.mu.Lock()
	id := d.id
	d.b.mu.Unlock()

	d.b.bind(func(listener func(querycache.Snapshot[T])) func() {
		return d.src.SubscribeDetail(id, listener)
	})
}

// ID returns the bound record id.
func (d *Detail[T]) ID() string {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	return d.id
}

// SetID rebinds the view to another record.
func (d *Detail[T]) SetID(id string) {
	d.b.mu.Lock()
	if d.b.closed || d.id == id {
		d.b.mu.Unlock()
		return
	}
	d.id = id
	d.b.mu.Unlock()

	d.bind()
}

// Render returns the current render state.
func (d *Detail[T]) Render() State { return d.b.state() }

// Snapshot returns the last snapshot received for the bound record.
func (d *Detail[T]) Snapshot() querycache.Snapshot[T] { return d.b.snapshot() }

// Record returns the loaded record.
func (d *Detail[T]) Record() (T, bool) {
	s := d.b.snapshot()
	return s.Data, s.HasData
}

// Refetch reloads the record.
func (d *Detail[T]) Refetch() {
	if id := d.ID(); id != "" {
		d.src.RefetchDetail(id)
	}
}

// Close drops the subscription and waits for a running change callback.
// It must not be called from the change callback itself.
func (d *Detail[T]) Close() { d.b.close() }
