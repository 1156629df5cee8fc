// Package mutation performs create, update and delete calls and keeps the
// query cache in step with the server.
//
// A successful write invalidates every cached read of the written resource,
// lists and details alike, since a single update can move a record between
// pages or filters. Extra resources can be attached per call with
// WithInvalidates. There are no optimistic updates: the cache only holds
// what the server returned.
package mutation
