package blobfile

import (
	"fmt"
	"io"
	"sync"
)

// Memory implements an in-memory channel. It is intended mainly for
// testing. The backing slice grows with zero fill as writes land past the
// current end.
type Memory struct {
	m sync.RWMutex
	b []byte
}

var (
	// ensure Memory satisfies the Channel interface
	_ Channel = &Memory{}
)

// NewMemory returns a new, empty memory channel.
func NewMemory() *Memory {
	return &Memory{}
}

func (mc *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("Negative offset %d", off)
	}
	mc.m.RLock()
	defer mc.m.RUnlock()
	if off >= int64(len(mc.b)) {
		return 0, io.EOF
	}
	n := copy(p, mc.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mc *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("Negative offset %d", off)
	}
	mc.m.Lock()
	defer mc.m.Unlock()
	end := off + int64(len(p))
	if end > int64(len(mc.b)) {
		mc.b = append(mc.b, make([]byte, end-int64(len(mc.b)))...)
	}
	copy(mc.b[off:], p)
	return len(p), nil
}

// Size returns the number of bytes written so far, counting zero fill.
func (mc *Memory) Size() int64 {
	mc.m.RLock()
	defer mc.m.RUnlock()
	return int64(len(mc.b))
}
