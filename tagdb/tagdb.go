// Package tagdb records which buckets of a pool are persisted. Each
// persisted bucket has one tag, keyed by its slot index. The tag database
// is what survives a restart: the pool reloads its persisted buckets from
// the tags at startup, and everything not tagged is gone.
//
// There are implementations using the embedded QL database, intended for
// development and testing, and MySQL for production use.
package tagdb

import (
	"time"
)

// A Tag is the durable record of one bucket. Index is the slot the bucket
// occupies in the blob file; Size is the byte count written when the tag
// was last saved.
type Tag struct {
	Index     int64
	BlockSize int64
	Size      int64
	Persisted bool
	Saved     time.Time
}

// DB is the persistence layer consumed by the pool. DeleteTag tolerates a
// missing record, and LookupTag returns nil, not an error, when no tag
// exists for the slot.
type DB interface {
	SaveTag(tag Tag) error
	DeleteTag(index int64) error
	LookupTag(index int64) (*Tag, error)
	ListTags() ([]Tag, error)
}
