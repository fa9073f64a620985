package blobfile

import (
	"errors"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Mmap is a fixed-capacity channel memory-mapped over a file. The file is
// sized once at open; writes outside the mapping fail rather than grow it.
type Mmap struct {
	f    *os.File
	data mmap.MMap
}

var (
	_ Channel = &Mmap{}

	// ErrOutOfRange indicates an access outside the mapped region.
	ErrOutOfRange = errors.New("access outside mapped region")
)

// OpenMmap maps the file at path read-write, first truncating it to size.
// size must be a positive multiple of the intended block size, though the
// channel itself does not check that.
func OpenMmap(path string, size int64) (*Mmap, error) {
	if size <= 0 {
		return nil, ErrOutOfRange
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Mmap{f: f, data: data}, nil
}

func (mm *Mmap) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(mm.data)) {
		return 0, io.EOF
	}
	n := copy(p, mm.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mm *Mmap) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(mm.data)) {
		return 0, ErrOutOfRange
	}
	n := copy(mm.data[off:], p)
	return n, nil
}

// Size returns the capacity of the mapping.
func (mm *Mmap) Size() int64 {
	return int64(len(mm.data))
}

// Sync flushes the mapped region to the underlying file.
func (mm *Mmap) Sync() error {
	return mm.data.Flush()
}

// Close unmaps the region and closes the file. The channel must not be
// used afterwards.
func (mm *Mmap) Close() error {
	err := mm.data.Unmap()
	err2 := mm.f.Close()
	if err == nil {
		err = err2
	}
	return err
}
