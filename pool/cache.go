package pool

import (
	"container/list"
	"sync"

	"github.com/offblock/blobpool/tagdb"
)

// Cache keeps a bounded number of persisted buckets activated in memory,
// re-activating them from their tag records on demand. Eviction follows
// LRU order, except that a bucket with open read streams vetoes its own
// eviction through CanDeactivate and is kept loaded.
//
// A pool's Load activates everything eagerly; the cache is the lazy
// alternative for pools too large to hold resident.
type Cache struct {
	p      *Pool
	db     tagdb.DB
	max    int          // bucket count the cache tries to stay under
	flight singleflight // collapses concurrent activations of one slot

	m   sync.Mutex // protects lru
	lru *list.List // of int64 slot indices; front is MRU
}

// NewCache creates a cache over p holding at most max activated buckets.
// Tag records are read from db on a miss.
func NewCache(p *Pool, db tagdb.DB, max int) *Cache {
	c := &Cache{p: p, db: db, max: max, lru: list.New()}
	c.flight.F = c.load
	return c
}

// Get returns the live bucket on the given slot, activating it from its
// tag record if needed. A slot with no record returns nil, nil: a miss is
// not an error.
func (c *Cache) Get(index int64) (*Bucket, error) {
	if b := c.p.Lookup(index); b != nil {
		c.touch(index)
		return b, nil
	}
	v, err := c.flight.Get(index)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*Bucket), nil
}

func (c *Cache) load(index int64) (interface{}, error) {
	tag, err := c.db.LookupTag(index)
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, nil
	}
	b := c.p.activate(*tag)
	c.touch(index)
	c.evict()
	return b, nil
}

// touch moves the slot to the MRU end, adding it if unknown.
func (c *Cache) touch(index int64) {
	c.m.Lock()
	defer c.m.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(int64) == index {
			c.lru.MoveToFront(e)
			return
		}
	}
	c.lru.PushFront(index)
}

// evict unloads buckets from the LRU end until at most max remain loaded.
// Vetoed buckets are treated as in use and moved to the MRU end.
func (c *Cache) evict() {
	c.m.Lock()
	defer c.m.Unlock()
	// bounded so a cache full of vetoed buckets does not spin
	for tries := c.lru.Len(); tries > 0 && c.lru.Len() > c.max; tries-- {
		e := c.lru.Back()
		if e == nil {
			return
		}
		index := e.Value.(int64)
		b := c.p.Lookup(index)
		if b == nil {
			// already unloaded elsewhere
			c.lru.Remove(e)
			continue
		}
		if !c.p.deactivate(b) {
			c.lru.MoveToFront(e)
			continue
		}
		c.lru.Remove(e)
	}
}
