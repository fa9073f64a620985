package tagdb

import (
	"sync"
)

// Memory implements a map-backed tag database. It is intended mainly for
// testing.
type Memory struct {
	m    sync.RWMutex
	tags map[int64]Tag
}

var (
	// make sure it implements the DB interface
	_ DB = &Memory{}
)

// NewMemory returns a new, empty memory tag database.
func NewMemory() *Memory {
	return &Memory{tags: make(map[int64]Tag)}
}

func (ms *Memory) SaveTag(tag Tag) error {
	ms.m.Lock()
	ms.tags[tag.Index] = tag
	ms.m.Unlock()
	return nil
}

func (ms *Memory) DeleteTag(index int64) error {
	ms.m.Lock()
	delete(ms.tags, index)
	ms.m.Unlock()
	return nil
}

func (ms *Memory) LookupTag(index int64) (*Tag, error) {
	ms.m.RLock()
	defer ms.m.RUnlock()
	tag, ok := ms.tags[index]
	if !ok {
		return nil, nil
	}
	return &tag, nil
}

func (ms *Memory) ListTags() ([]Tag, error) {
	ms.m.RLock()
	defer ms.m.RUnlock()
	result := make([]Tag, 0, len(ms.tags))
	for _, tag := range ms.tags {
		result = append(result, tag)
	}
	return result, nil
}
