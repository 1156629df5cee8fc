// Package querycache keeps the results of resource reads and shares them
// between every reader of the same resource.Key.
//
// Concurrent reads of one key share a single backend request. Results stay
// fresh for Config.StaleTime; after that a read returns the previous value
// at once and revalidates in the background, notifying subscribers when the
// new value lands. Retryable failures (see resource.IsRetryable) are retried
// Config.Retry times with exponential backoff. Entries nobody subscribes to
// are dropped after Config.GCTime.
//
// Mutations call InvalidateResource with the resource name. Every key of
// that resource is dropped from the store with one prefix delete, and
// subscribed entries refetch right away.
//
//	c, _ := querycache.New(querycache.DefaultConfig())
//	key := resource.ListKey("leads", resource.ListInput{})
//	unsubscribe := querycache.Subscribe(c, key, fetchLeads, func(s querycache.Snapshot[resource.Page[Lead]]) {
//		render(s)
//	})
//	defer unsubscribe()
package querycache
