// Package cache provides the storage interfaces and key serialization used by
// the query cache.
//
// # Overview
//
// Two interfaces are exported together with their default implementations:
//
//   - CacheService: read-through storage with request coalescing, backed by sturdyc
//   - KeySerializer: builds namespaced store keys from query parameters
//
// Keys produced by the default serializer always start with
// Prefix(namespace), which is the resource name followed by KeySeparator.
// Dropping every cached result of a resource is therefore one
// DeleteByPrefix call.
//
// # Basic Usage
//
//	store, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	keys := cache.NewDefaultKeySerializer()
//	key := keys.SerializeKey("identity-users", "list", map[string]string{"filter": "ann"}, 0, 10)
//
//	page, err := cache.GetOrFetch(ctx, store, key, func(ctx context.Context) (Page, error) {
//		return client.List(ctx, ...)
//	})
//
// # Key Serialization
//
// The default serializer writes:
//
//   - strings and fmt.Stringer values quoted, so separators inside values stay unambiguous
//   - numbers and booleans in their canonical form
//   - slices and arrays element by element
//   - maps as key=value pairs sorted by key
//   - structs as exported Name:value pairs
//
// Functions and channels have no stable representation and are rejected.
//
// # Error Handling
//
// Fetch errors are never stored: every caller waiting on the same key receives
// the error and the next call starts a new fetch.
package cache
