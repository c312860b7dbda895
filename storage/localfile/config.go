// Package localfile implements wal.Storage against a single growing file
// using Direct I/O.
package localfile

import (
	"fmt"
	"time"
)

// Config configures a Storage. Validate both checks required fields and
// fills in defaults for everything else.
type Config struct {
	// Path is the file Persist appends to. Required.
	Path string

	// PreallocateSize is the size to preallocate via fallocate each time the
	// file is opened on Linux, without changing the file's size; other
	// platforms ignore it. 0 disables preallocation.
	PreallocateSize int64

	// SyncEveryWrite forces an fsync after every Persist call. When false,
	// durability is only guaranteed after Flush.
	SyncEveryWrite bool

	// FlushTimeout is set to 10s by Validate when it is zero or negative.
	// Flush does not consult it and has no timeout.
	FlushTimeout time.Duration
}

// DefaultConfig returns a Config with baseline defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		PreallocateSize: 64 * 1024 * 1024,
		SyncEveryWrite:  false,
		FlushTimeout:    10 * time.Second,
	}
}

// Validate checks the configuration and fills in zero-valued fields with
// defaults.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("localfile: Path is required")
	}
	if c.PreallocateSize < 0 {
		return fmt.Errorf("localfile: PreallocateSize must be >= 0")
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 10 * time.Second
	}
	return nil
}
