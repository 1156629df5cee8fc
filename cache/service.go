package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidResultType is returned by GetOrFetch when the stored value does not
// have the type requested by the caller.
var ErrInvalidResultType = errors.New("cache: stored value has unexpected type")

// KeySerializer builds a store key from a namespace and arbitrary args.
// Keys for the same namespace must share the Prefix(namespace) prefix so that a
// namespace can be dropped with a single DeleteByPrefix call.
type KeySerializer interface {
	SerializeKey(namespace string, args ...any) string
	Prefix(namespace string) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the storage and request coalescing engine behind the query cache.
// Concurrent GetOrFetch calls for the same key share one fetchFn invocation.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Get(ctx context.Context, key string) (any, bool)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// GetOrFetch is a type-safe wrapper function that provides generic support for CacheService.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T

	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		return zero, err
	}

	return assertResult[T](key, result)
}

// Get returns the stored value for key when present and of type T.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool) {
	result, ok := service.Get(ctx, key)
	if !ok {
		var zero T
		return zero, false
	}

	value, err := assertResult[T](key, result)
	return value, err == nil
}

func assertResult[T any](key string, result any) (T, error) {
	var zero T
	if result == nil {
		return zero, nil
	}

	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T, want %T", ErrInvalidResultType, key, result, zero)
	}
	return value, nil
}
