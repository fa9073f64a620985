package pool

import (
	"log"
	"sync"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/offblock/blobpool/blobfile"
	"github.com/offblock/blobpool/tagdb"
)

// Pool multiplexes buckets onto slots of one shared backing channel and
// bridges them to the tag database. It is the only writer of the slot
// tables, always under its own lock, and its lock is always taken before
// any bucket's lock.
type Pool struct {
	name      string
	blockSize int64
	channel   blobfile.Channel
	db        tagdb.DB

	m         sync.Mutex // the outer lock; protects everything below
	temporary map[int64]*Bucket
	persisted map[int64]*Bucket
	shadows   map[int64]int  // live shadow count per slot
	parked    map[int64]bool // freed slots waiting on live shadows
	free      []int64        // slots ready for reuse
	next      int64          // first never-used slot
	lastID    ID
}

var (
	// the Pool is the Allocator its buckets call back into
	_ Allocator = &Pool{}
)

// New creates a pool named name handing out buckets of blockSize bytes
// over the given channel, recording persisted buckets in db. Call Load to
// pick up buckets recorded by an earlier run.
func New(name string, blockSize int64, ch blobfile.Channel, db tagdb.DB) *Pool {
	return &Pool{
		name:      name,
		blockSize: blockSize,
		channel:   ch,
		db:        db,
		temporary: make(map[int64]*Bucket),
		persisted: make(map[int64]*Bucket),
		shadows:   make(map[int64]int),
		parked:    make(map[int64]bool),
	}
}

// Name returns the pool's name. Bucket names are "name:index".
func (p *Pool) Name() string { return p.name }

// BlockSize returns the slot size every bucket of this pool has.
func (p *Pool) BlockSize() int64 { return p.blockSize }

// newID assumes p.m is held.
func (p *Pool) newID() ID {
	p.lastID++
	return p.lastID
}

// channels which know their length and can be extended, e.g. a plain file
type sizedChannel interface {
	Size() (int64, error)
	Truncate(int64) error
}

// grow makes sure the channel covers slot index. Channels of fixed
// capacity are left alone; their writes fail at the channel instead.
func (p *Pool) grow(index int64) error {
	sc, ok := p.channel.(sizedChannel)
	if !ok {
		return nil
	}
	want := (index + 1) * p.blockSize
	size, err := sc.Size()
	if err == nil && size < want {
		err = sc.Truncate(want)
	}
	return errors.Wrapf(err, "pool %s: grow blob file for slot %d", p.name, index)
}

// Acquire hands out a new temporary bucket on a free slot, extending the
// backing channel if the slot is past its end.
func (p *Pool) Acquire() (*Bucket, error) {
	p.m.Lock()
	defer p.m.Unlock()
	var index int64
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		index = p.next
		p.next++
	}
	if err := p.grow(index); err != nil {
		p.free = append(p.free, index)
		return nil, err
	}
	b := NewBucket(p, p.channel, p.blockSize, index, p.newID(), false)
	p.temporary[index] = b
	return b, nil
}

// CreateShadow returns a read-only view over b's slot with its own
// identity and free path. It fails with ErrFreed if b is already gone.
func (p *Pool) CreateShadow(b *Bucket) (*Bucket, error) {
	p.m.Lock()
	defer p.m.Unlock()
	if b.Freed() {
		return nil, ErrFreed
	}
	s := NewBucket(p, p.channel, p.blockSize, b.index, p.newID(), true)
	p.shadows[b.index]++
	return s, nil
}

// FreeBucket releases the origin bucket on the given slot. Its tag record,
// if any, is deleted. The slot is reused only once every shadow of it has
// also been freed.
func (p *Pool) FreeBucket(index int64, b *Bucket) {
	p.m.Lock()
	defer p.m.Unlock()
	if b.Freed() {
		// freeing twice is allowed
		return
	}
	wasPersisted := b.Persisted()
	b.markFreed()
	owner := p.temporary[index] == b || p.persisted[index] == b
	occupied := p.temporary[index] != nil || p.persisted[index] != nil
	if !owner && occupied {
		// a deactivated bucket freed after its slot was re-activated as a
		// different object. Reclaiming the slot now would corrupt the live
		// bucket, so only the flag is set.
		err := errors.Errorf("pool %s: freeing stale bucket %d for an occupied slot", p.name, index)
		log.Println(err)
		raven.CaptureError(err, nil)
		return
	}
	delete(p.temporary, index)
	delete(p.persisted, index)
	if wasPersisted {
		if err := p.db.DeleteTag(index); err != nil {
			log.Printf("pool %s: delete tag %d: %s", p.name, index, err.Error())
			raven.CaptureError(err, nil)
		}
	}
	p.releaseSlot(index)
}

// releaseSlot assumes p.m is held.
func (p *Pool) releaseSlot(index int64) {
	if p.shadows[index] > 0 {
		p.parked[index] = true
		return
	}
	p.free = append(p.free, index)
}

// FreeShadow releases one shadow of the given slot. If the origin bucket
// was already freed and this was the last shadow, the slot becomes
// reusable.
func (p *Pool) FreeShadow(index int64, b *Bucket) {
	p.m.Lock()
	defer p.m.Unlock()
	if b.Freed() {
		return
	}
	b.markFreed()
	p.shadows[index]--
	if p.shadows[index] <= 0 {
		delete(p.shadows, index)
		if p.parked[index] {
			delete(p.parked, index)
			p.free = append(p.free, index)
		}
	}
}

// Store saves b's tag record and moves it to the persisted table. Called
// by Bucket.StoreTo on the first temporary-to-persisted transition.
func (p *Pool) Store(b *Bucket, db tagdb.DB) error {
	p.m.Lock()
	defer p.m.Unlock()
	if b.Freed() {
		// lost the race with a free; do not re-register the slot
		return ErrFreed
	}
	tag := tagdb.Tag{
		Index:     b.index,
		BlockSize: b.blockSize,
		Size:      b.Size(),
		Persisted: true,
		Saved:     time.Now(),
	}
	if err := db.SaveTag(tag); err != nil {
		return errors.Wrapf(err, "pool %s: save tag %d", p.name, b.index)
	}
	delete(p.temporary, b.index)
	p.persisted[b.index] = b
	return nil
}

// Remove deletes b's tag record and moves it back to the temporary table.
// Called by Bucket.RemoveFrom when the bucket is persisted.
func (p *Pool) Remove(b *Bucket, db tagdb.DB) {
	p.m.Lock()
	defer p.m.Unlock()
	if b.Freed() {
		return
	}
	if err := db.DeleteTag(b.index); err != nil {
		log.Printf("pool %s: delete tag %d: %s", p.name, b.index, err.Error())
		raven.CaptureError(err, nil)
	}
	delete(p.persisted, b.index)
	p.temporary[b.index] = b
	b.markRemoved()
}

// Lookup returns the live bucket on the given slot, or nil if the slot is
// not loaded.
func (p *Pool) Lookup(index int64) *Bucket {
	p.m.Lock()
	defer p.m.Unlock()
	if b := p.persisted[index]; b != nil {
		return b
	}
	return p.temporary[index]
}

// activate registers a bucket rebuilt from its tag record. If a live
// bucket already occupies the slot that one is returned instead.
func (p *Pool) activate(tag tagdb.Tag) *Bucket {
	p.m.Lock()
	defer p.m.Unlock()
	if b := p.persisted[tag.Index]; b != nil {
		return b
	}
	if b := p.temporary[tag.Index]; b != nil {
		return b
	}
	b := NewBucket(p, p.channel, p.blockSize, tag.Index, p.newID(), false)
	b.size = tag.Size
	b.persisted = tag.Persisted
	b.CanActivateNew() // reports a record that was saved unpersisted
	p.persisted[tag.Index] = b
	return b
}

// deactivate unloads a persisted bucket from the slot table. The tag
// record stays; the bucket can be activated again later. Returns false,
// leaving the bucket loaded, if it has open read streams.
func (p *Pool) deactivate(b *Bucket) bool {
	p.m.Lock()
	defer p.m.Unlock()
	if !b.CanDeactivate() {
		return false
	}
	if p.persisted[b.index] != b {
		// already unloaded, or replaced; nothing to do
		return true
	}
	delete(p.persisted, b.index)
	return true
}

// Load re-activates every bucket recorded in the tag database, seeds the
// free list from the gaps between recorded slots, and advances the fresh
// slot counter past the highest one. Call once, before handing out
// buckets.
func (p *Pool) Load() error {
	tags, err := p.db.ListTags()
	if err != nil {
		return errors.Wrapf(err, "pool %s: list tags", p.name)
	}
	p.m.Lock()
	defer p.m.Unlock()
	used := make(map[int64]bool)
	var max int64 = -1
	for _, tag := range tags {
		if tag.BlockSize != p.blockSize {
			return errors.Errorf("pool %s: tag %d has block size %d, pool uses %d",
				p.name, tag.Index, tag.BlockSize, p.blockSize)
		}
		b := NewBucket(p, p.channel, p.blockSize, tag.Index, p.newID(), false)
		b.size = tag.Size
		b.persisted = tag.Persisted
		b.CanActivateNew()
		p.persisted[tag.Index] = b
		used[tag.Index] = true
		if tag.Index > max {
			max = tag.Index
		}
	}
	for i := int64(0); i < max; i++ {
		if !used[i] {
			p.free = append(p.free, i)
		}
	}
	if max+1 > p.next {
		p.next = max + 1
	}
	return nil
}

// Stats is a point-in-time count of the pool's slot tables.
type Stats struct {
	Temporary int   // buckets only in memory
	Persisted int   // buckets recorded in the tag database
	Free      int   // slots ready for reuse
	Next      int64 // first never-used slot
}

func (p *Pool) Stats() Stats {
	p.m.Lock()
	defer p.m.Unlock()
	return Stats{
		Temporary: len(p.temporary),
		Persisted: len(p.persisted),
		Free:      len(p.free),
		Next:      p.next,
	}
}
