// Package store defines the persistence contract for posts, ticker mentions and
// per-ticker sentiment rows. Implementations live in internal/storage; this
// package must not import database drivers or concrete clients.
package store
