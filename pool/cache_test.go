package pool

import (
	"io/ioutil"
	"testing"

	"github.com/offblock/blobpool/blobfile"
	"github.com/offblock/blobpool/tagdb"
)

// seed a channel and database with one persisted bucket per content entry,
// then return a fresh pool which has not loaded any of them.
func seedPool(t *testing.T, blockSize int64, contents []string) (*Pool, tagdb.DB) {
	ch := blobfile.NewMemory()
	db := tagdb.NewMemory()
	p := New("seed", blockSize, ch, db)
	for _, text := range contents {
		b, err := p.Acquire()
		if err != nil {
			t.Fatalf("received %s, expected nil", err.Error())
		}
		w, _ := b.Create()
		w.Write([]byte(text))
		if err := b.StoreTo(db); err != nil {
			t.Fatalf("received %s, expected nil", err.Error())
		}
	}
	return New("cached", blockSize, ch, db), db
}

func TestCacheActivation(t *testing.T) {
	p, db := seedPool(t, 32, []string{"zero", "one", "two"})
	cache := NewCache(p, db, 10)
	b, err := cache.Get(2)
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	if b == nil {
		t.Fatal("Got nil, expected a bucket")
	}
	if !b.Persisted() {
		t.Errorf("activated bucket is not persisted")
	}
	r, err := b.Open()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	data, _ := ioutil.ReadAll(r)
	r.Close()
	if string(data) != "two" {
		t.Fatalf("Read %q, expected %q", data, "two")
	}
	// a second get returns the same live bucket
	b2, _ := cache.Get(2)
	if b2 == nil || b2.ID() != b.ID() {
		t.Errorf("second Get returned a different bucket")
	}
}

func TestCacheMiss(t *testing.T) {
	p, db := seedPool(t, 32, []string{"zero"})
	cache := NewCache(p, db, 10)
	b, err := cache.Get(9)
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	if b != nil {
		t.Errorf("Got a bucket for an unrecorded slot")
	}
}

func TestCacheEviction(t *testing.T) {
	p, db := seedPool(t, 32, []string{"zero", "one"})
	cache := NewCache(p, db, 1)
	b0, err := cache.Get(0)
	if err != nil || b0 == nil {
		t.Fatalf("Got (%v, %v), expected a bucket", b0, err)
	}
	b1, err := cache.Get(1)
	if err != nil || b1 == nil {
		t.Fatalf("Got (%v, %v), expected a bucket", b1, err)
	}
	if p.Lookup(0) != nil {
		t.Errorf("slot 0 still loaded after eviction")
	}
	// the evicted bucket activates again, as a new object
	b0again, err := cache.Get(0)
	if err != nil || b0again == nil {
		t.Fatalf("Got (%v, %v), expected a bucket", b0again, err)
	}
	if b0again.ID() == b0.ID() {
		t.Errorf("re-activation kept the unloaded identity")
	}
}

func TestCacheEvictionVeto(t *testing.T) {
	p, db := seedPool(t, 32, []string{"zero", "one"})
	cache := NewCache(p, db, 1)
	b0, err := cache.Get(0)
	if err != nil || b0 == nil {
		t.Fatalf("Got (%v, %v), expected a bucket", b0, err)
	}
	r, err := b0.Open()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	cache.Get(1)
	// the open read stream pins slot 0 in memory
	if p.Lookup(0) == nil {
		t.Errorf("slot 0 evicted despite an open read stream")
	}
	r.Close()
}
