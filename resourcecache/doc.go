// Package resourcecache provides the cached data access object every entity
// page of the portal is built on.
//
// # Overview
//
// Each entity exposes the same five operations against its application
// service: a paged list, a read by id, create, update and delete. Instead of
// one hand written module per entity, a Resource[T] is built once from a
// resource.Descriptor and wires the three layers together:
//
//   - reads go through querycache, so concurrent readers share one request
//     and fresh results are served without a round trip
//   - writes go through mutation.Executor, which invalidates every cached
//     read of the resource when the server accepts the write
//   - list and detail screens bind through view.List and view.Detail
//
// # Basic Usage
//
//	leads := resource.MustDescriptor[Lead]("leads")
//	res, err := resourcecache.New(leads, client, querycache.Default(), nil)
//	if err != nil {
//		return err
//	}
//
//	page, err := res.List(ctx, resource.ListInput{Filter: map[string]string{"filter": "acme"}})
//	lead, err := res.Get(ctx, page.Items[0].ID)
//	_, err = res.Update(ctx, lead.ID, UpdateLead{Name: "Acme Ltd"})
//
// # Cached vs Pass-through Operations
//
// Cached reads:
//   - List, All, Get (blocking)
//   - ReadList, ReadDetail (non blocking snapshots)
//   - SubscribeList, SubscribeDetail (push updates)
//
// Pass-through writes, followed by invalidation:
//   - Create, Update, Delete
//
// # Keys and Invalidation
//
// List keys carry the filter, skipCount and maxResultCount, so every page
// and filter combination is its own entry. Detail keys carry the id; a
// detail read with an empty id stays Idle and sends nothing, which is how
// create screens reuse the edit view.
//
// All keys of a resource share the resource name prefix in the store.
// A successful write drops them with one prefix delete; subscribed entries
// refetch at once and the others on their next read.
//
// # Integration with Dependency Injection
//
// The container in pkg/di builds the shared client, cache and executor:
//
//	container, err := di.NewContainer(cfg)
//	if err != nil {
//		return err
//	}
//	leads, err := di.NewResource(container, resource.MustDescriptor[Lead]("leads"))
//
// # Error Handling
//
// Read errors are kept on the cache entry (Snapshot.Err) and returned by the
// blocking reads. Write errors are returned unchanged and leave the cache
// untouched. resource.AsError converts either to a display ready error.
package resourcecache
