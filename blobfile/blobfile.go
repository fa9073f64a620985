// Package blobfile provides the shared backing channel a pool of buckets
// multiplexes its slots onto. A channel is one flat sequence of bytes
// accessed only by position; slot i of a pool with block size s occupies
// the range [s*i, s*i+s).
//
// The channel itself imposes no locking. Distinct slots never overlap, so
// the only discipline callers need is to stay inside their own slot.
package blobfile

import (
	"io"
)

// Channel is a random-access byte channel. All access is positioned; there
// is no shared cursor.
type Channel interface {
	io.ReaderAt
	io.WriterAt
}
