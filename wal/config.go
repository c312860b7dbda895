package wal

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config is the constructor-only configuration surface of a Log. Following
// Validate fills in nothing by itself: unlike the shard-pool loggers this
// package is adapted from, a WAL has no safe defaults for ring size or
// segment size, so callers must supply them explicitly.
type Config struct {
	// InitialLSN is the base LSN assigned to the first Active segment.
	InitialLSN uint64

	// NumSegments is the fixed ring size. Must be >= 2.
	NumSegments int

	// SegmentSize is the capacity of each segment's buffer, in bytes.
	// Should be a power of two at least as large as the expected write
	// burst size.
	SegmentSize int

	// Storage is the persistence collaborator. Required.
	Storage Storage

	// Logger receives structured rotation/persist events. The zero value
	// discards everything, so it is safe to leave unset.
	Logger zerolog.Logger
}

// Validate checks the configuration. It does not mutate c — every field
// that matters for correctness (ring size, segment size, storage) has no
// safe default and must be supplied by the caller.
func (c *Config) Validate() error {
	if c.NumSegments < 2 {
		return fmt.Errorf("wal: num_segments must be >= 2, got %d", c.NumSegments)
	}
	if c.SegmentSize < 1 {
		return fmt.Errorf("wal: segment_size must be >= 1, got %d", c.SegmentSize)
	}
	if c.Storage == nil {
		return fmt.Errorf("wal: storage is required")
	}
	return nil
}
