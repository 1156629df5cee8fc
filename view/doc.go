// Package view binds list and detail screens to the query cache.
//
// A view owns no data. It subscribes to one key at a time and maps the
// latest snapshot to a State (Idle, Loading, Empty, Error or Loaded, plus a
// Refreshing flag). Navigation to other screens is left to the caller
// through the OnEdit and OnCreate callbacks.
package view
