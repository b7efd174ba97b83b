// Package cache provides the persistent fetch cache keyed by DOI.
package cache

import (
	"encoding/json"
	"time"
)

// Record is a cached resolution result. Records are immutable once written
// and replaced wholesale on refresh; no partial update is ever visible.
type Record struct {
	Namespace string
	Key       string
	Payload   json.RawMessage
	FetchedAt time.Time
}

// Store is the persistent key-value store behind the fetcher. Implementations
// must be safe for concurrent use by multiple in-flight fetches. Get returns
// (nil, nil) on a miss; a stored record whose payload is not parsable JSON is
// also reported as a miss so the caller re-fetches.
type Store interface {
	Get(namespace, key string) (*Record, error)
	Put(rec *Record) error

	// Clear removes all records in the given namespace, or every record
	// when namespace is empty.
	Clear(namespace string) error
}
