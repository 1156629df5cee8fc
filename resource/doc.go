// Package resource is the HTTP client for the backend application services.
//
// Every entity is described once by a Descriptor and then read and written
// through the generic functions List, ListAll, Get, Create, Update and
// Delete. Lists use the paged wire shape {"totalCount": n, "items": [...]}
// with skipCount and maxResultCount query parameters.
//
// Failures are typed: *TransportError when no response arrived,
// *ClientError for 4xx, *ServerError for 5xx and *DecodeError for bodies
// that cannot be decoded. IsRetryable tells them apart for retry loops and
// AsError turns any of them into a *errors.Error from go-errors for display.
//
// The client's round tripper chain sets the bearer token, tenant and
// culture headers, refreshes the access token once on 401, and copies the
// XSRF-TOKEN cookie into the anti-forgery headers of mutating requests.
package resource
