package pool

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/offblock/blobpool/blobfile"
	"github.com/offblock/blobpool/tagdb"
)

func TestAcquireReuse(t *testing.T) {
	p, _ := newTestPool(t, 16)
	a := acquire(t, p)
	b := acquire(t, p)
	if a.Index() != 0 || b.Index() != 1 {
		t.Fatalf("Got slots (%d, %d), expected (0, 1)", a.Index(), b.Index())
	}
	a.Free()
	c := acquire(t, p)
	if c.Index() != 0 {
		t.Errorf("Got slot %d, expected the freed slot 0", c.Index())
	}
	if c.ID() == a.ID() {
		t.Errorf("slot reuse reused the old identity")
	}
}

func TestShadowSlotReclamation(t *testing.T) {
	p, _ := newTestPool(t, 16)
	b := acquire(t, p)
	w, _ := b.Create()
	w.Write([]byte("still here"))
	s, err := b.CreateShadow()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	b.Free()
	// the slot is parked while the shadow lives
	next := acquire(t, p)
	if next.Index() == b.Index() {
		t.Fatalf("slot %d reused while a shadow references it", b.Index())
	}
	// the shadow still reads the slot
	r, err := s.Open()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	data, _ := ioutil.ReadAll(r)
	r.Close()
	if string(data) != "still here" {
		t.Fatalf("Read %q, expected %q", data, "still here")
	}
	s.Free()
	s.Free() // idempotent for shadows too
	reused := acquire(t, p)
	if reused.Index() != b.Index() {
		t.Errorf("Got slot %d, expected the reclaimed slot %d", reused.Index(), b.Index())
	}
}

func TestLoad(t *testing.T) {
	ch := blobfile.NewMemory()
	db := tagdb.NewMemory()
	p := New("first", 32, ch, db)
	var bs []*Bucket
	for i := 0; i < 4; i++ {
		b, err := p.Acquire()
		if err != nil {
			t.Fatalf("received %s, expected nil", err.Error())
		}
		bs = append(bs, b)
	}
	w, _ := bs[0].Create()
	w.Write([]byte("zero"))
	bs[0].StoreTo(db)
	w, _ = bs[2].Create()
	w.Write([]byte("two"))
	bs[2].StoreTo(db)
	bs[1].Free()

	// a new pool over the same channel and database
	q := New("second", 32, ch, db)
	if err := q.Load(); err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	stats := q.Stats()
	if stats.Persisted != 2 {
		t.Errorf("Got %d persisted, expected 2", stats.Persisted)
	}
	if stats.Next != 3 {
		t.Errorf("Got next slot %d, expected 3", stats.Next)
	}
	b := q.Lookup(2)
	if b == nil {
		t.Fatal("slot 2 not loaded")
	}
	if !b.Persisted() || b.Size() != 3 {
		t.Errorf("Got (persisted=%v, size=%d), expected (true, 3)", b.Persisted(), b.Size())
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
	// the gap left by slot 1 is handed out before a fresh slot
	nb, err := q.Acquire()
	if err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	if nb.Index() != 1 {
		t.Errorf("Got slot %d, expected the gap slot 1", nb.Index())
	}
}

func TestLoadBlockSizeMismatch(t *testing.T) {
	db := tagdb.NewMemory()
	db.SaveTag(tagdb.Tag{Index: 0, BlockSize: 16, Persisted: true})
	p := New("test", 32, blobfile.NewMemory(), db)
	if err := p.Load(); err == nil {
		t.Errorf("Load accepted a tag with the wrong block size")
	}
}

// failingDB fails every save.
type failingDB struct {
	tagdb.DB
	broken bool
}

var errBroken = errors.New("database on fire")

func (f *failingDB) SaveTag(tag tagdb.Tag) error {
	if f.broken {
		return errBroken
	}
	return f.DB.SaveTag(tag)
}

func TestStoreToFailure(t *testing.T) {
	db := &failingDB{DB: tagdb.NewMemory(), broken: true}
	p := New("test", 16, blobfile.NewMemory(), db)
	b := acquire(t, p)
	if err := b.StoreTo(db); errors.Cause(err) != errBroken {
		t.Fatalf("Got %v, expected the save failure", err)
	}
	if b.Persisted() {
		t.Errorf("bucket persisted after a failed store")
	}
	// the transition can be retried
	db.broken = false
	if err := b.StoreTo(db); err != nil {
		t.Fatalf("received %s, expected nil", err.Error())
	}
	if !b.Persisted() {
		t.Errorf("bucket not persisted after retry")
	}
}

func TestFileChannelGrowth(t *testing.T) {
	dir, err := ioutil.TempDir("", "blobpool")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	ch, err := blobfile.Open(filepath.Join(dir, "pool.blob"))
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	p := New("disk", 128, ch, tagdb.NewMemory())
	b := acquire(t, p)
	size, err := ch.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size < 128 {
		t.Errorf("Got file size %d, expected at least one slot", size)
	}
	b2 := acquire(t, p)
	size, _ = ch.Size()
	if size < 256 {
		t.Errorf("Got file size %d, expected at least two slots", size)
	}
	w, _ := b2.Create()
	w.Write([]byte("on disk"))
	r, _ := b2.Open()
	data, _ := ioutil.ReadAll(r)
	r.Close()
	if string(data) != "on disk" {
		t.Fatalf("Read %q, expected %q", data, "on disk")
	}
	b.Free()
}

func TestConcurrentReadersOneWriter(t *testing.T) {
	const blockSize = 1024
	p, _ := newTestPool(t, blockSize)
	b := acquire(t, p)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w, err := b.Create()
		if err != nil {
			t.Error(err)
			return
		}
		chunk := make([]byte, 8)
		for i := range chunk {
			chunk[i] = 'x'
		}
		for i := 0; i < blockSize/len(chunk); i++ {
			if _, err := w.Write(chunk); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := b.Open()
			if err != nil {
				t.Error(err)
				return
			}
			defer r.Close()
			var got int64
			buf := make([]byte, 64)
			for got < blockSize {
				n, err := r.Read(buf)
				got += int64(n)
				if err != nil && err != io.EOF {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if b.Size() != blockSize {
		t.Errorf("Got size %d, expected %d", b.Size(), blockSize)
	}
}

func TestConcurrentLifecycle(t *testing.T) {
	p, db := newTestPool(t, 64)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		b := acquire(t, p)
		wg.Add(3)
		go func() {
			defer wg.Done()
			b.StoreTo(db)
		}()
		go func() {
			defer wg.Done()
			b.RemoveFrom(db)
		}()
		go func() {
			defer wg.Done()
			b.Free()
		}()
	}
	wg.Wait()
	stats := p.Stats()
	if stats.Persisted+stats.Temporary+stats.Free != int(stats.Next) {
		t.Errorf("slots leaked: %+v", stats)
	}
}
