package localfile

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Storage implements wal.Storage by appending rotated segment bytes to a
// single file via Direct I/O. It is invoked at most single-threadedly by
// the Log's storage mutex; Persist, Flush and Close still take closeMu so
// that a Close invoked concurrently with a late Persist or Flush is
// serialized against it.
type Storage struct {
	cfg    Config
	writer fileWriter
	logger zerolog.Logger

	closeMu sync.Mutex
	closed  bool

	highestDurable uint64
}

// Open validates cfg and opens (creating if necessary) the backing file.
func Open(cfg Config, logger zerolog.Logger) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w, err := newFileWriter(cfg.Path, cfg.PreallocateSize)
	if err != nil {
		return nil, err
	}

	return &Storage{cfg: cfg, writer: w, logger: logger}, nil
}

// Persist appends bytes to the file. It accepts the entire slice or
// returns an error; there is no partial-acceptance outcome.
func (s *Storage) Persist(ctx context.Context, bytes []byte) (int, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("localfile: storage is closed")
	}
	if len(bytes) == 0 {
		return 0, nil
	}

	n, err := s.writer.WriteAt(bytes)
	if err != nil {
		return n, fmt.Errorf("localfile: persist: %w", err)
	}
	if n != len(bytes) {
		return n, fmt.Errorf("localfile: short write: wrote %d of %d bytes", n, len(bytes))
	}

	if s.cfg.SyncEveryWrite {
		if err := s.writer.Sync(); err != nil {
			return n, fmt.Errorf("localfile: persist sync: %w", err)
		}
	}

	s.highestDurable += uint64(n)
	s.logger.Debug().Int("bytes", n).Msg("persisted segment to local file")
	return n, nil
}

// Flush fsyncs the file and returns the number of bytes persisted through
// this Storage since Open. That equals the highest durable LSN for a Log
// that started at LSN 0 and whose only Storage is this one; bytes already
// in the file when it was opened are not counted.
func (s *Storage) Flush(ctx context.Context) (uint64, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return s.highestDurable, nil
	}
	if err := s.writer.Sync(); err != nil {
		return s.highestDurable, fmt.Errorf("localfile: flush: %w", err)
	}
	return s.highestDurable, nil
}

// Close syncs and closes the backing file. Calling it again is a no-op that
// returns nil; Persist calls after Close return an error.
func (s *Storage) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.writer.Sync(); err != nil {
		return fmt.Errorf("localfile: close sync: %w", err)
	}
	return s.writer.Close()
}
