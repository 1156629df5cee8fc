package querycache

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-resource-query/cache"
	"github.com/goliatone/go-resource-query/resource"
)

// FetchFunc loads the value of one query from the backend.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is a point in time view of a cached query.
type Snapshot[T any] struct {
	Data T
	// TotalCount is the server side count for list queries.
	TotalCount int
	FetchedAt  time.Time
	IsStale    bool
	Status     Status
	Err        error
	IsFetching bool
	// HasData is set once any fetch succeeded, so Data may be shown while
	// Status is Loading or Error.
	HasData bool
}

type totaler interface {
	Total() int
}

func erase[T any](fetch FetchFunc[T]) fetchFunc {
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}

func snapshotOf[T any](st state) Snapshot[T] {
	snap := Snapshot[T]{
		FetchedAt:  st.fetchedAt,
		IsStale:    st.isStale,
		Status:     st.status,
		Err:        st.err,
		IsFetching: st.isFetching,
	}
	if !st.hasData {
		return snap
	}

	data, err := assertData[T](st.data)
	if err != nil {
		snap.Status = StatusError
		snap.Err = err
		return snap
	}

	snap.Data = data
	snap.HasData = true
	if t, ok := st.data.(totaler); ok {
		snap.TotalCount = t.Total()
	}
	return snap
}

func assertData[T any](data any) (T, error) {
	var zero T
	if data == nil {
		return zero, nil
	}
	v, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("%w: have %T, want %T", cache.ErrInvalidResultType, data, zero)
	}
	return v, nil
}

// Read returns the current snapshot for key without blocking. When no fresh
// result exists it starts a fetch, at most one per key, and the snapshot
// reports Loading (or the stale data with IsStale set).
func Read[T any](c *Cache, key resource.Key, fetch FetchFunc[T]) Snapshot[T] {
	return snapshotOf[T](c.read(key, erase(fetch)))
}

// Fetch returns fresh data for key, waiting for the in-flight fetch when
// there is one. Cancelling ctx stops the wait, not the shared fetch.
func Fetch[T any](ctx context.Context, c *Cache, key resource.Key, fetch FetchFunc[T]) (T, error) {
	data, err := c.fetch(ctx, key, erase(fetch))
	if err != nil {
		var zero T
		return zero, err
	}
	return assertData[T](data)
}

// Subscribe calls listener with the current snapshot and with every later
// change of key until the returned func is called. Listeners of one key are
// called from the goroutine that settled the fetch and must not block.
func Subscribe[T any](c *Cache, key resource.Key, fetch FetchFunc[T], listener func(Snapshot[T])) (unsubscribe func()) {
	return c.subscribe(key, erase(fetch), func(st state) {
		listener(snapshotOf[T](st))
	})
}

// Peek returns the current snapshot for key without starting a fetch.
func Peek[T any](c *Cache, key resource.Key) Snapshot[T] {
	return snapshotOf[T](c.peek(key))
}

// Refetch starts a fetch for key even when the cached result is fresh.
// Data already cached stays visible while it runs.
func Refetch[T any](c *Cache, key resource.Key, fetch FetchFunc[T]) {
	c.refetch(key, erase(fetch))
}
