//go:build linux

package localfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// alignmentSize is the required alignment for O_DIRECT on Linux (ext4 block
// size). Must be 4096 bytes, not 512.
const alignmentSize = 4096

// directFileWriter appends to a single file opened with O_DIRECT|O_DSYNC,
// using Pwritev for offset-based vectored writes. Rotation across files is
// the ring's job, not this backend's — it only ever appends to one file.
type directFileWriter struct {
	file   *os.File
	fd     int
	offset atomic.Int64
}

func newFileWriter(path string, preallocateSize int64) (fileWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("localfile: create directory: %w", err)
	}

	fd, err := unix.Open(path,
		unix.O_WRONLY|unix.O_CREAT|unix.O_DIRECT|unix.O_DSYNC,
		0644)
	if err != nil {
		return nil, fmt.Errorf("localfile: open %s with O_DIRECT: %w", path, err)
	}

	if preallocateSize > 0 {
		aligned := alignUp(preallocateSize, alignmentSize)
		if err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, aligned); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("localfile: fallocate %s: %w", path, err)
		}
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("localfile: NewFile failed for %s", path)
	}

	w := &directFileWriter{file: f, fd: fd}
	if stat, err := f.Stat(); err == nil {
		w.offset.Store(stat.Size())
	}
	return w, nil
}

func (w *directFileWriter) WriteAt(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	off := w.offset.Load()
	n, err := unix.Pwritev(w.fd, [][]byte{p}, off)
	if err != nil {
		return n, fmt.Errorf("localfile: pwritev: %w", err)
	}
	w.offset.Add(int64(n))
	return n, nil
}

func (w *directFileWriter) Sync() error {
	if err := unix.Fsync(w.fd); err != nil {
		return fmt.Errorf("localfile: fsync: %w", err)
	}
	return nil
}

func (w *directFileWriter) Offset() int64 {
	return w.offset.Load()
}

func (w *directFileWriter) Close() error {
	size := w.offset.Load()
	if size > 0 {
		if err := unix.Ftruncate(w.fd, size); err != nil {
			return fmt.Errorf("localfile: truncate to actual size: %w", err)
		}
	}
	return w.file.Close()
}

// alignUp rounds n up to the next multiple of align (align must be a power
// of two).
func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}
