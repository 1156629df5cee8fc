package resourcecache

import (
	"context"
	"fmt"

	"github.com/goliatone/go-resource-query/mutation"
	"github.com/goliatone/go-resource-query/querycache"
	"github.com/goliatone/go-resource-query/resource"
	"github.com/goliatone/go-resource-query/view"
)

// Interface assertions for the view bindings.
var (
	_ view.ListSource[resource.Record]   = (*Resource[resource.Record])(nil)
	_ view.DetailSource[resource.Record] = (*Resource[resource.Record])(nil)
)

// Resource is the cached data access object of one entity type. Reads go
// through the query cache, writes through the mutation executor which
// invalidates the reads on success.
type Resource[T any] struct {
	desc   resource.Descriptor[T]
	client *resource.Client
	cache  *querycache.Cache
	exec   *mutation.Executor
}

// New creates the cached resource for d. A nil exec writes through client
// and invalidates cache.
func New[T any](d resource.Descriptor[T], client *resource.Client, cache *querycache.Cache, exec *mutation.Executor) (*Resource[T], error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("resourcecache: invalid descriptor %q: %w", d.Name, err)
	}
	if client == nil {
		return nil, fmt.Errorf("resourcecache: %s: nil client", d.Name)
	}
	if cache == nil {
		return nil, fmt.Errorf("resourcecache: %s: nil cache", d.Name)
	}
	if exec == nil {
		exec = mutation.New(client, cache)
	}

	return &Resource[T]{desc: d, client: client, cache: cache, exec: exec}, nil
}

// Descriptor returns the resource descriptor.
func (r *Resource[T]) Descriptor() resource.Descriptor[T] { return r.desc }

// Name returns the resource name used in cache keys.
func (r *Resource[T]) Name() string { return r.desc.Name }

// ListKey returns the cache key of a list read.
func (r *Resource[T]) ListKey(in resource.ListInput) resource.Key {
	return resource.ListKey(r.desc.Name, in)
}

// DetailKey returns the cache key of a single record read.
func (r *Resource[T]) DetailKey(id string) resource.Key {
	return resource.DetailKey(r.desc.Name, id)
}

func (r *Resource[T]) listFetch(key resource.Key) querycache.FetchFunc[resource.Page[T]] {
	in := key.Input()
	return func(ctx context.Context) (resource.Page[T], error) {
		return resource.List(ctx, r.client, r.desc, in)
	}
}

func (r *Resource[T]) detailFetch(id string) querycache.FetchFunc[T] {
	return func(ctx context.Context) (T, error) {
		return resource.Get(ctx, r.client, r.desc, id)
	}
}

// List returns a page, from the cache when fresh.
func (r *Resource[T]) List(ctx context.Context, in resource.ListInput) (resource.Page[T], error) {
	key := r.ListKey(in)
	return querycache.Fetch(ctx, r.cache, key, r.listFetch(key))
}

// All returns up to resource.AllMaxResultCount records, for pickers.
func (r *Resource[T]) All(ctx context.Context, filter map[string]string) (resource.Page[T], error) {
	return r.List(ctx, resource.ListInput{Filter: filter, MaxResultCount: resource.AllMaxResultCount})
}

// Get returns one record, from the cache when fresh.
func (r *Resource[T]) Get(ctx context.Context, id string) (T, error) {
	return querycache.Fetch(ctx, r.cache, r.DetailKey(id), r.detailFetch(id))
}

// ReadList returns the current list snapshot without blocking.
func (r *Resource[T]) ReadList(in resource.ListInput) querycache.Snapshot[resource.Page[T]] {
	key := r.ListKey(in)
	return querycache.Read(r.cache, key, r.listFetch(key))
}

// ReadDetail returns the current record snapshot without blocking. An empty
// id yields an Idle snapshot.
func (r *Resource[T]) ReadDetail(id string) querycache.Snapshot[T] {
	return querycache.Read(r.cache, r.DetailKey(id), r.detailFetch(id))
}

// SubscribeList follows a list key.
func (r *Resource[T]) SubscribeList(in resource.ListInput, listener func(querycache.Snapshot[resource.Page[T]])) func() {
	key := r.ListKey(in)
	return querycache.Subscribe(r.cache, key, r.listFetch(key), listener)
}

// SubscribeDetail follows a record.
func (r *Resource[T]) SubscribeDetail(id string, listener func(querycache.Snapshot[T])) func() {
	return querycache.Subscribe(r.cache, r.DetailKey(id), r.detailFetch(id), listener)
}

// RefetchList reloads a list key.
func (r *Resource[T]) RefetchList(in resource.ListInput) {
	key := r.ListKey(in)
	querycache.Refetch(r.cache, key, r.listFetch(key))
}

// RefetchDetail reloads a record.
func (r *Resource[T]) RefetchDetail(id string) {
	querycache.Refetch(r.cache, r.DetailKey(id), r.detailFetch(id))
}

// Invalidate marks every cached read of the resource stale.
func (r *Resource[T]) Invalidate() {
	r.cache.InvalidateResource(r.desc.Name)
}

// Create posts a new record and invalidates the resource.
func (r *Resource[T]) Create(ctx context.Context, payload any) (T, error) {
	return mutation.Create(ctx, r.exec, r.desc, payload)
}

// Update replaces a record and invalidates the resource.
func (r *Resource[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	return mutation.Update(ctx, r.exec, r.desc, id, payload)
}

// Delete removes a record and invalidates the resource.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	return mutation.Delete(ctx, r.exec, r.desc, id)
}

// ListView binds a list view to the resource.
func (r *Resource[T]) ListView(opts ...view.ListOption[T]) *view.List[T] {
	return view.NewList[T](r, opts...)
}

// DetailView binds a detail view for id to the resource.
func (r *Resource[T]) DetailView(id string, opts ...view.DetailOption[T]) *view.Detail[T] {
	return view.NewDetail[T](r, id, opts...)
}
