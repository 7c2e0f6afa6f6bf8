// Package store provides the embedded SQLite persistence layer.
//
// SQLiteDriver opens handles to a single database file and satisfies the
// connection pool's Driver contract, so every query runs over a pooled
// handle. WAL journal mode is the default so concurrent readers do not block
// on the single writer.
package store
