package blobfile

import (
	"os"
)

// File is a channel backed by a single file on disk. Writes past the end
// of the file extend it.
type File struct {
	f *os.File
}

var (
	// make sure it implements the Channel interface
	_ Channel = &File{}
)

// Open returns a file channel over the file at path, creating the file if
// it does not exist.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

func (bf *File) ReadAt(p []byte, off int64) (int, error) {
	return bf.f.ReadAt(p, off)
}

func (bf *File) WriteAt(p []byte, off int64) (int, error) {
	return bf.f.WriteAt(p, off)
}

// Size returns the current length of the backing file.
func (bf *File) Size() (int64, error) {
	fi, err := bf.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Truncate sets the length of the backing file. Extending zero-fills.
func (bf *File) Truncate(size int64) error {
	return bf.f.Truncate(size)
}

// Sync flushes the file contents to stable storage.
func (bf *File) Sync() error {
	return bf.f.Sync()
}

func (bf *File) Close() error {
	return bf.f.Close()
}
