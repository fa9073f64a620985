package pool

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	raven "github.com/getsentry/raven-go"

	"github.com/offblock/blobpool/blobfile"
	"github.com/offblock/blobpool/tagdb"
)

var (
	// ErrFreed indicates an operation on a bucket after Free, or a bucket
	// freed while the operation was in flight.
	ErrFreed = errors.New("bucket already freed")

	// ErrReadOnly indicates a write to a read-only bucket. Shadows are
	// always read only.
	ErrReadOnly = errors.New("bucket is read only")

	// ErrFull indicates a write that would exceed the bucket's block size.
	ErrFull = errors.New("bucket is full")

	// ErrShadow indicates a persistence operation on a shadow bucket.
	// Shadows have no record of their own in the tag database.
	ErrShadow = errors.New("not supported on a shadow bucket")
)

// An ID identifies a bucket for the life of the process. IDs are assigned
// by the pool at construction, are never reused, and never change; two
// buckets are the same bucket exactly when their IDs are equal. A shadow
// has a different ID than its origin.
type ID uint64

// Allocator is the narrow slot-allocator interface a bucket calls back
// into. The Pool implements it. The Free and Store notifications take the
// allocator's own lock before touching the bucket, preserving the lock
// order described in the package comment.
type Allocator interface {
	CreateShadow(b *Bucket) (*Bucket, error)
	FreeBucket(index int64, b *Bucket)
	FreeShadow(index int64, b *Bucket)
	Store(b *Bucket, db tagdb.DB) error
	Remove(b *Bucket, db tagdb.DB)
	Name() string
}

// Bucket is one fixed-size slot of a shared backing channel. See the
// package comment for the lifecycle.
type Bucket struct {
	blockSize int64
	index     int64
	id        ID
	shadow    bool
	alloc     Allocator
	channel   blobfile.Channel

	m         sync.Mutex // protects everything below
	size      int64
	freed     bool
	readOnly  bool
	persisted bool
	nreaders  int
}

// NewBucket returns a bucket over slot index of the channel. Buckets are
// normally created by a Pool; this is exported for tests and for anyone
// implementing their own Allocator.
func NewBucket(alloc Allocator, ch blobfile.Channel, blockSize, index int64, id ID, shadow bool) *Bucket {
	return &Bucket{
		blockSize: blockSize,
		index:     index,
		id:        id,
		shadow:    shadow,
		readOnly:  shadow,
		alloc:     alloc,
		channel:   ch,
	}
}

// ID returns the bucket's identity. It never changes.
func (b *Bucket) ID() ID { return b.id }

// Index returns the slot this bucket occupies in the backing channel.
func (b *Bucket) Index() int64 { return b.index }

// BlockSize returns the fixed capacity of the bucket's slot.
func (b *Bucket) BlockSize() int64 { return b.blockSize }

// IsShadow returns true if this bucket is a read-only view over another
// bucket's slot.
func (b *Bucket) IsShadow() bool { return b.shadow }

// Name returns a human-readable identifier of the form "pool:index".
func (b *Bucket) Name() string {
	return fmt.Sprintf("%s:%d", b.alloc.Name(), b.index)
}

// Size returns the number of bytes written to the bucket so far.
func (b *Bucket) Size() int64 {
	b.m.Lock()
	defer b.m.Unlock()
	return b.size
}

// Freed returns true once the bucket has been freed.
func (b *Bucket) Freed() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return b.freed
}

// Persisted returns true while the bucket is recorded in the tag database.
func (b *Bucket) Persisted() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return b.persisted
}

// IsReadOnly returns true if writes are not allowed.
func (b *Bucket) IsReadOnly() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return b.readOnly
}

// SetReadOnly marks the bucket read only. There is no way back. A write
// stream in progress will fail its next Write.
func (b *Bucket) SetReadOnly() {
	b.m.Lock()
	b.readOnly = true
	b.m.Unlock()
}

// Open returns a new read stream over the bucket's contents. The stream
// is single use and not safe for concurrent use, though any number of
// independent streams may be open at once. The bucket cannot be unloaded
// from a cache while read streams are open; close them.
func (b *Bucket) Open() (*Reader, error) {
	b.m.Lock()
	defer b.m.Unlock()
	if b.freed {
		return nil, ErrFreed
	}
	b.nreaders++
	return &Reader{b: b}, nil
}

// Reader is a read stream over one bucket. The visible upper bound,
// min(blockSize, size), is recomputed on every Read, so bytes committed by
// a writer before a Read call are visible to it even when the stream was
// opened earlier.
type Reader struct {
	b      *Bucket
	off    int64
	closed bool
}

func (r *Reader) Read(p []byte) (int, error) {
	b := r.b
	b.m.Lock()
	if b.freed {
		b.m.Unlock()
		return 0, ErrFreed
	}
	max := b.size
	if b.blockSize < max {
		max = b.blockSize
	}
	b.m.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	if r.off >= max {
		return 0, io.EOF
	}
	if int64(len(p)) > max-r.off {
		p = p[:max-r.off]
	}
	n, err := b.channel.ReadAt(p, b.blockSize*b.index+r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// a short read is not an error for an io.Reader
		err = nil
	}
	return n, err
}

// Close releases the stream's hold on the bucket. It is idempotent.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.b.m.Lock()
	r.b.nreaders--
	r.b.m.Unlock()
	return nil
}

// Create returns a new write stream over the bucket's slot. Writes append
// after previous writes on the same stream; the stream is single use and
// not safe for concurrent use. Independent write streams on one bucket
// keep independent offsets and will clobber each other; the bucket only
// guarantees the capacity and flag checks, not mutual exclusion.
func (b *Bucket) Create() (*Writer, error) {
	b.m.Lock()
	defer b.m.Unlock()
	if b.freed {
		return nil, ErrFreed
	}
	if b.shadow || b.readOnly {
		return nil, ErrReadOnly
	}
	return &Writer{b: b}, nil
}

// Writer is a write stream over one bucket.
type Writer struct {
	b   *Bucket
	off int64
}

func (w *Writer) Write(p []byte) (int, error) {
	b := w.b
	b.m.Lock()
	if b.freed {
		b.m.Unlock()
		return 0, ErrFreed
	}
	if b.readOnly {
		b.m.Unlock()
		return 0, ErrReadOnly
	}
	remaining := b.blockSize - w.off
	if remaining <= 0 || int64(len(p)) > remaining {
		b.m.Unlock()
		return 0, ErrFull
	}
	b.m.Unlock()
	var written int
	for written < len(p) {
		n, err := b.channel.WriteAt(p[written:], b.blockSize*b.index+w.off)
		w.off += int64(n)
		written += n
		if n > 0 {
			// size always trails the bytes actually on the channel, so a
			// racing reader never sees uninitialized slot tail
			b.m.Lock()
			b.size += int64(n)
			b.m.Unlock()
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Close is a no-op; the slot stays with the bucket.
func (w *Writer) Close() error { return nil }

// CreateShadow returns a new read-only bucket over the same slot. The
// shadow is freed independently of this bucket.
func (b *Bucket) CreateShadow() (*Bucket, error) {
	return b.alloc.CreateShadow(b)
}

// Free releases the bucket's slot back to the allocator. Terminal: every
// later operation fails with ErrFreed. Freeing twice is harmless.
func (b *Bucket) Free() {
	if b.shadow {
		b.alloc.FreeShadow(b.index, b)
		return
	}
	b.alloc.FreeBucket(b.index, b) // calls markFreed; the pool lock is taken first
}

// markFreed is called by the pool while it holds its own lock.
func (b *Bucket) markFreed() {
	b.m.Lock()
	b.freed = true
	b.m.Unlock()
}

// StoreTo records the bucket in the tag database, moving it from the
// temporary to the persisted state. Exactly one record is saved per
// false-to-true transition; calling StoreTo on an already persisted
// bucket does nothing. If the record save fails the persisted flag is
// rolled back so the call can be retried.
func (b *Bucket) StoreTo(db tagdb.DB) error {
	if b.shadow {
		return ErrShadow
	}
	b.m.Lock()
	if b.freed {
		b.m.Unlock()
		return ErrFreed
	}
	p := b.persisted
	b.persisted = true
	b.m.Unlock()
	if p {
		return nil
	}
	err := b.alloc.Store(b, db)
	if err != nil {
		b.m.Lock()
		b.persisted = false
		b.m.Unlock()
	}
	return err
}

// RemoveFrom moves the bucket back to the temporary state. The tag record
// is deleted whether or not the bucket was persisted; a missing record is
// not an error.
func (b *Bucket) RemoveFrom(db tagdb.DB) error {
	if b.shadow {
		return ErrShadow
	}
	b.m.Lock()
	if b.freed {
		b.m.Unlock()
		return ErrFreed
	}
	p := b.persisted
	b.m.Unlock()
	if p {
		b.alloc.Remove(b, db) // calls markRemoved under the pool lock
	}
	return db.DeleteTag(b.index)
}

// markRemoved is called by the pool while it holds its own lock.
func (b *Bucket) markRemoved() {
	b.m.Lock()
	b.persisted = false
	b.m.Unlock()
}

// CanDeactivate reports whether the bucket may be unloaded from an
// in-memory cache. A bucket with open read streams must stay loaded; that
// condition indicates a bug upstream, so it is reported as an integrity
// anomaly, but the query itself never fails.
func (b *Bucket) CanDeactivate() bool {
	b.m.Lock()
	n := b.nreaders
	b.m.Unlock()
	if n > 0 {
		err := fmt.Errorf("deactivating %s with %d open read streams", b.Name(), n)
		log.Println(err)
		raven.CaptureError(err, nil)
		return false
	}
	return true
}

// CanActivateNew reports whether the bucket may be materialized as a new
// record. The activation is always allowed, but a bucket that was never
// stored is reported as an integrity anomaly: the tag database should not
// know about it yet.
func (b *Bucket) CanActivateNew() bool {
	b.m.Lock()
	p := b.persisted
	b.m.Unlock()
	if !p {
		err := fmt.Errorf("activating %s before it was stored", b.Name())
		log.Println(err)
		raven.CaptureError(err, nil)
	}
	return true
}
