// Package querycache is a read-through cache in front of the Mention/Sentiment
// Store. Entries carry their own expiry checked against an injected clock, so a
// disposable backend (in-process or Redis) can be swapped without changing TTL
// semantics. Losing the backend only makes reads slower.
package querycache
