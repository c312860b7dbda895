// Package wal implements the in-memory append path and segment-rotation
// protocol of a multi-writer write-ahead log: a fixed ring of pre-allocated
// segments that writers reserve byte ranges in without mutual exclusion,
// coordinated hand-off of full segments to an external Storage collaborator,
// and monotonically increasing, gap-free LSN assignment across rotations.
//
// The durable storage format, crash recovery, checksums, and compression
// are explicitly out of scope here; see the storage/ subpackages for
// concrete Storage implementations.
package wal

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Log is a ring of segments plus a cursor to the Active segment and a
// single-flight rotation latch. It is safe for concurrent use by any number
// of writers.
type Log struct {
	segments []*segment

	currentIndex     atomic.Uint64
	rotateInProgress atomic.Bool

	storageMu sync.Mutex
	storage   Storage

	logger zerolog.Logger
	stat   stats
}

// New constructs a Log with cfg.NumSegments pre-allocated segments of
// cfg.SegmentSize bytes each. Segment 0 starts Active with base LSN
// cfg.InitialLSN; all others start Queued.
func New(cfg Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	segs := make([]*segment, cfg.NumSegments)
	for i := range segs {
		segs[i] = newSegment(cfg.SegmentSize)
		segs[i].setBaseLSN(cfg.InitialLSN)
	}
	segs[0].setState(stateActive)

	return &Log{
		segments: segs,
		storage:  cfg.Storage,
		logger:   cfg.Logger,
	}, nil
}

// NumSegments returns the fixed ring size.
func (l *Log) NumSegments() int {
	return len(l.segments)
}

// Write admits data into the ring, splitting across rotations as needed,
// and returns the LSN of the first byte accepted. Reservation itself never
// blocks; Write only waits inside rotate, which it calls whenever a
// reservation fails (the Active segment is full or non-Active) or only
// partially fits. There it may spin while the old segment drains and wait on
// the storage mutex and on Storage.Persist.
func (l *Log) Write(ctx context.Context, data []byte) (uint64, error) {
	remaining := data
	var firstLSN uint64
	haveLSN := false

	for len(remaining) > 0 {
		idx := l.currentIndex.Load()
		seg := l.segments[idx]

		pos, granted, lsn, ok := seg.tryReserve(len(remaining))
		if !ok {
			if err := l.rotate(ctx); err != nil {
				return firstLSN, err
			}
			continue
		}

		if !haveLSN {
			firstLSN = lsn
			haveLSN = true
		}

		func() {
			defer seg.finishWrite()
			seg.write(pos, remaining[:granted])
		}()
		l.stat.bytesWritten.Add(int64(granted))
		remaining = remaining[granted:]

		if len(remaining) == 0 {
			l.stat.writesAccepted.Add(1)
			return firstLSN, nil
		}

		if err := l.rotate(ctx); err != nil {
			return firstLSN, err
		}
	}

	return firstLSN, nil
}

// Rotate seizes the rotation latch (if free), drains the current Active
// segment, publishes the next segment as Active ("early activation" — the
// new segment is usable before the old one's bytes are durable), and hands
// the old segment's filled prefix to Storage. If the latch is already held
// by a concurrent caller, Rotate yields and returns nil: the caller is
// expected to re-observe currentIndex on its next loop iteration, which may
// already name the rotated-to segment.
func (l *Log) Rotate(ctx context.Context) error {
	return l.rotate(ctx)
}

func (l *Log) rotate(ctx context.Context) error {
	if !l.rotateInProgress.CompareAndSwap(false, true) {
		runtime.Gosched()
		return nil
	}
	defer l.rotateInProgress.Store(false)

	cur := l.currentIndex.Load()
	next := (cur + 1) % uint64(len(l.segments))
	old := l.segments[cur]
	newSeg := l.segments[next]

	var newBase uint64
	for {
		for old.state() != stateActive || old.writerCount() != 0 {
			runtime.Gosched()
		}

		newBase = old.getBaseLSN() + uint64(old.buf.pos())

		if old.tryBeginWriting() {
			break
		}
		// A latecomer was admitted between the drain check and the CAS;
		// redrain and recompute the base once it finishes.
	}

	if newSeg.state() != stateQueued {
		l.logger.Error().
			Uint64("segment", next).
			Str("state", newSeg.state().String()).
			Msg("rotation target is not queued")
		return &InvariantViolation{
			Invariant: "next segment queued",
			Detail:    "ring is saturated relative to persistence latency",
		}
	}

	newSeg.setBaseLSN(newBase)
	newSeg.setState(stateActive)
	l.currentIndex.Store(next)
	l.stat.rotations.Add(1)

	l.logger.Debug().
		Uint64("from_segment", cur).
		Uint64("to_segment", next).
		Uint64("new_base_lsn", newBase).
		Msg("segment rotated")

	bytes := old.buf.filled()

	l.storageMu.Lock()
	_, err := l.storage.Persist(ctx, bytes)
	l.storageMu.Unlock()

	if err != nil {
		l.stat.persistErrors.Add(1)
		l.logger.Error().Err(err).Uint64("segment", cur).Msg("persist failed")
		return &StorageError{Op: "persist", Err: err}
	}

	old.buf.clear()
	old.setState(stateQueued)
	return nil
}

// Flush forces whatever has already been handed to Storage to become
// durable and returns the highest durable LSN. Flush never rotates the
// currently Active segment implicitly — a caller needing durability of the
// Active tail must call Rotate first.
func (l *Log) Flush(ctx context.Context) (uint64, error) {
	l.storageMu.Lock()
	defer l.storageMu.Unlock()

	lsn, err := l.storage.Flush(ctx)
	if err != nil {
		return 0, &StorageError{Op: "flush", Err: err}
	}
	return lsn, nil
}
