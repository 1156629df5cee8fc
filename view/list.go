package view

import (
	"github.com/goliatone/go-resource-query/querycache"
	"github.com/goliatone/go-resource-query/resource"
)

// ListSource serves paged reads of one resource.
type ListSource[T any] interface {
	SubscribeList(in resource.ListInput, listener func(querycache.Snapshot[resource.Page[T]])) (unsubscribe func())
	RefetchList(in resource.ListInput)
}

// List is the state of a paged list view. Changing page, filter or page
// size moves the subscription to the new key; results for the previous key
// never reach the view afterwards.
type List[T any] struct {
	src      ListSource[T]
	input    resource.ListInput
	onEdit   func(T)
	onCreate func()

	b binding[resource.Page[T]]
}

// ListOption configures a List.
type ListOption[T any] func(*List[T])

// WithFilter sets the initial filter.
func WithFilter[T any](filter map[string]string) ListOption[T] {
	return func(l *List[T]) { l.input.Filter = copyFilter(filter) }
}

// WithPageSize sets the initial page size.
func WithPageSize[T any](size int) ListOption[T] {
	return func(l *List[T]) { l.input.MaxResultCount = size }
}

// WithListChange registers a callback for every render state change.
func WithListChange[T any](fn func(State)) ListOption[T] {
	return func(l *List[T]) { l.b.onChange = fn }
}

// WithOnEdit sets the callback for Edit.
func WithOnEdit[T any](fn func(record T)) ListOption[T] {
	return func(l *List[T]) { l.onEdit = fn }
}

// WithOnCreate sets the callback for Create.
func WithOnCreate[T any](fn func()) ListOption[T] {
	return func(l *List[T]) { l.onCreate = fn }
}

// NewList binds a list view to src and subscribes to the first page.
func NewList[T any](src ListSource[T], opts ...ListOption[T]) *List[T] {
	l := &List[T]{src: src}
	for _, opt := range opts {
		opt(l)
	}
	if l.input.MaxResultCount < 0 {
		l.input.MaxResultCount = 0
	}
	l.input = l.input.Normalize()
	l.b.render = func(s querycache.Snapshot[resource.Page[T]]) State {
		return renderSnapshot(s, resource.Page[T].Empty)
	}

	l.bind()
	return l
}

func (l *List[T]) bind() {
	l.b.mu.Lock()
	in := l.input
	l.b.mu.Unlock()

	l.b.bind(func(listener func(querycache.Snapshot[resource.Page[T]])) func() {
		return l.src.SubscribeList(in, listener)
	})
}

// Render returns the current render state.
func (l *List[T]) Render() State { return l.b.state() }

// Snapshot returns the last snapshot received for the current key.
func (l *List[T]) Snapshot() querycache.Snapshot[resource.Page[T]] { return l.b.snapshot() }

// Items returns the records of the current page.
func (l *List[T]) Items() []T { return l.b.snapshot().Data.Items }

// TotalCount returns the server side count for the current filter.
func (l *List[T]) TotalCount() int { return l.b.snapshot().TotalCount }

// Input returns the list input of the current key.
func (l *List[T]) Input() resource.ListInput {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	return l.input
}

// Page returns the zero based page index.
func (l *List[T]) Page() int {
	in := l.Input()
	return in.SkipCount / in.MaxResultCount
}

// PageCount returns the number of pages for the last known total.
func (l *List[T]) PageCount() int {
	in := l.Input()
	total := l.TotalCount()
	return (total + in.MaxResultCount - 1) / in.MaxResultCount
}

// SetPage moves to page n, clamped at zero.
func (l *List[T]) SetPage(n int) {
	if n < 0 {
		n = 0
	}
	l.update(func(in *resource.ListInput) {
		in.SkipCount = n * in.MaxResultCount
	})
}

// NextPage moves forward when the last known total has more records.
func (l *List[T]) NextPage() bool {
	in := l.Input()
	if in.SkipCount+in.MaxResultCount >= l.TotalCount() {
		return false
	}
	l.SetPage(l.Page() + 1)
	return true
}

// PrevPage moves back unless on the first page.
func (l *List[T]) PrevPage() bool {
	page := l.Page()
	if page == 0 {
		return false
	}
	l.SetPage(page - 1)
	return true
}

// SetFilter replaces the filter and returns to the first page.
func (l *List[T]) SetFilter(filter map[string]string) {
	l.update(func(in *resource.ListInput) {
		in.Filter = copyFilter(filter)
		in.SkipCount = 0
	})
}

// SetPageSize changes the page size and returns to the first page. Sizes
// below one select the default page size.
func (l *List[T]) SetPageSize(size int) {
	if size < 1 {
		size = resource.DefaultMaxResultCount
	}
	l.update(func(in *resource.ListInput) {
		in.MaxResultCount = size
		in.SkipCount = 0
	})
}

func (l *List[T]) update(fn func(in *resource.ListInput)) {
	l.b.mu.Lock()
	if l.b.closed {
		l.b.mu.Unlock()
		return
	}
	next := l.input
	next.Filter = copyFilter(next.Filter)
	fn(&next)
	next = next.Normalize()
	changed := !resource.ListKey("", next).Equal(resource.ListKey("", l.input))
	l.input = next
	l.b.mu.Unlock()

	if changed {
		l.bind()
	}
}

// Refetch reloads the current page, keeping the data visible meanwhile.
func (l *List[T]) Refetch() {
	l.src.RefetchList(l.Input())
}

// Edit hands record to the edit callback.
func (l *List[T]) Edit(record T) {
	if l.onEdit != nil {
		l.onEdit(record)
	}
}

// Create calls the create callback.
func (l *List[T]) Create() {
	if l.onCreate != nil {
		l.onCreate()
	}
}

// Close drops the subscription and waits for a running change callback.
// Later results never change the view and never reach the callback. Close
// must not be called from the change callback itself.
func (l *List[T]) Close() { l.b.close() }

func copyFilter(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
