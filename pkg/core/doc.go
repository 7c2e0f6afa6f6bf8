// Package core wires the connection pool, response cache, geocode cache and
// rate limiter into one facade. Callers construct a Core with their provider
// and geocoder collaborators and use it from any number of goroutines; every
// operation is safe for concurrent use.
//
// The facade owns resource lifecycles: Close tears down the caches, the
// limiter and the pooled store handles. Collaborators passed in via Deps are
// not closed.
package core
