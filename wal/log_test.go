package wal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// memStorage is an in-memory Storage fake: it records every persisted chunk
// and can be told to fail its Nth Persist call, for testing failure
// isolation (scenario 6).
type memStorage struct {
	mu        sync.Mutex
	chunks    [][]byte
	calls     int
	failOnNth int // 0 means never fail
	durable   uint64
}

func (m *memStorage) Persist(ctx context.Context, bytes []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failOnNth > 0 && m.calls == m.failOnNth {
		return 0, errors.New("simulated persist failure")
	}

	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	m.chunks = append(m.chunks, cp)
	m.durable += uint64(len(bytes))
	return len(bytes), nil
}

func (m *memStorage) Flush(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durable, nil
}

func (m *memStorage) snapshot() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.chunks))
	copy(out, m.chunks)
	return out
}

func newTestLog(t *testing.T, numSegments, segmentSize int, storage Storage) *Log {
	t.Helper()
	l, err := New(Config{
		InitialLSN:  0,
		NumSegments: numSegments,
		SegmentSize: segmentSize,
		Storage:     storage,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// Scenario 1: tiny writes, no rotation.
func TestScenarioTinyWritesNoRotation(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 2, 64, st)
	ctx := context.Background()

	lsn1, err := l.Write(ctx, []byte("abc"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lsn1 != 0 {
		t.Fatalf("expected lsn=0, got %d", lsn1)
	}

	lsn2, err := l.Write(ctx, []byte("de"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lsn2 != 3 {
		t.Fatalf("expected lsn=3, got %d", lsn2)
	}

	if got := l.segments[0].buf.pos(); got != 5 {
		t.Fatalf("expected segment 0 cursor at 5, got %d", got)
	}
	if len(st.snapshot()) != 0 {
		t.Fatalf("expected no persist calls, got %d", len(st.snapshot()))
	}
}

// Scenario 2: exact fill triggers exactly one rotation.
func TestScenarioExactFill(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 2, 4, st)
	ctx := context.Background()

	lsn1, err := l.Write(ctx, []byte("abcd"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lsn1 != 0 {
		t.Fatalf("expected lsn=0, got %d", lsn1)
	}

	lsn2, err := l.Write(ctx, []byte("efgh"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lsn2 != 4 {
		t.Fatalf("expected lsn=4, got %d", lsn2)
	}

	chunks := st.snapshot()
	if len(chunks) != 1 || string(chunks[0]) != "abcd" {
		t.Fatalf("expected exactly one persisted chunk %q, got %v", "abcd", chunks)
	}

	if l.segments[0].state() != stateQueued {
		t.Fatalf("expected segment 0 Queued after persist completes, got %v", l.segments[0].state())
	}
	if l.segments[1].state() != stateActive {
		t.Fatalf("expected segment 1 Active, got %v", l.segments[1].state())
	}
	if l.segments[1].getBaseLSN() != 4 {
		t.Fatalf("expected segment 1 base LSN 4, got %d", l.segments[1].getBaseLSN())
	}
	if l.segments[1].buf.pos() != 4 {
		t.Fatalf("expected segment 1 cursor at 4, got %d", l.segments[1].buf.pos())
	}
}

// Scenario 3: a write larger than the segment splits across a rotation.
func TestScenarioSplitWrite(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 2, 4, st)
	ctx := context.Background()

	lsn, err := l.Write(ctx, []byte("ABCDEFG"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lsn != 0 {
		t.Fatalf("expected lsn=0, got %d", lsn)
	}

	chunks := st.snapshot()
	if len(chunks) != 1 || string(chunks[0]) != "ABCD" {
		t.Fatalf("expected persist called once with %q, got %v", "ABCD", chunks)
	}

	if got := string(l.segments[1].buf.filled()); got != "EFG" {
		t.Fatalf("expected segment 1 to hold %q, got %q", "EFG", got)
	}
}

// Scenario 4: concurrent small writes to one segment never overlap or drop
// LSNs, and no rotation occurs.
func TestScenarioConcurrentSmallWrites(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 2, 64, st)
	ctx := context.Background()

	const writers = 2
	const perWriter = 10

	var wg sync.WaitGroup
	lsns := make([]uint64, 0, writers*perWriter)
	var mu sync.Mutex

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				lsn, err := l.Write(ctx, []byte("XX"))
				if err != nil {
					t.Errorf("Write: %v", err)
					return
				}
				mu.Lock()
				lsns = append(lsns, lsn)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(lsns) != writers*perWriter {
		t.Fatalf("expected %d LSNs, got %d", writers*perWriter, len(lsns))
	}

	seen := make(map[uint64]bool, len(lsns))
	for _, lsn := range lsns {
		if lsn >= 40 {
			t.Fatalf("lsn %d out of expected range [0,40)", lsn)
		}
		if lsn%2 != 0 {
			t.Fatalf("lsn %d is not a multiple of 2", lsn)
		}
		if seen[lsn] {
			t.Fatalf("duplicate lsn %d", lsn)
		}
		seen[lsn] = true
	}

	if len(st.snapshot()) != 0 {
		t.Fatalf("expected no rotation/persist calls, got %d", len(st.snapshot()))
	}

	filled := l.segments[0].buf.filled()
	if len(filled) != 40 {
		t.Fatalf("expected 40 filled bytes, got %d", len(filled))
	}
	for i := 0; i < len(filled); i += 2 {
		if string(filled[i:i+2]) != "XX" {
			t.Fatalf("expected contiguous \"XX\" tokens with no gaps at offset %d, got %q", i, filled[i:i+2])
		}
	}
}

// Scenario 5: heavy contention forces multiple rotations; every returned
// LSN is distinct and the persisted+in-flight bytes reconstruct in LSN
// order to exactly nine "abcd" substrings.
func TestScenarioForcedRotationUnderContention(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 3, 8, st)
	ctx := context.Background()

	const writers = 3
	const perWriter = 3

	type result struct {
		lsn uint64
	}

	var wg sync.WaitGroup
	results := make([]result, 0, writers*perWriter)
	var mu sync.Mutex

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				lsn, err := l.Write(ctx, []byte("abcd"))
				if err != nil {
					t.Errorf("Write: %v", err)
					return
				}
				mu.Lock()
				results = append(results, result{lsn: lsn})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(results) != writers*perWriter {
		t.Fatalf("expected %d writes, got %d", writers*perWriter, len(results))
	}

	seen := make(map[uint64]bool, len(results))
	for _, r := range results {
		if r.lsn >= 36 {
			t.Fatalf("lsn %d out of expected range [0,36)", r.lsn)
		}
		if seen[r.lsn] {
			t.Fatalf("duplicate lsn %d", r.lsn)
		}
		seen[r.lsn] = true
	}

	if got := l.Stats().Rotations; got < 4 {
		t.Fatalf("expected at least 4 rotations, got %d", got)
	}

	// Rebuild the full byte stream: persisted chunks in order, followed by
	// whatever remains in the currently Active segment.
	var all strings.Builder
	for _, c := range st.snapshot() {
		all.Write(c)
	}
	all.WriteString(string(l.segments[l.currentIndex.Load()].buf.filled()))

	count := strings.Count(all.String(), "abcd")
	if count != 9 {
		t.Fatalf("expected exactly 9 \"abcd\" substrings, got %d in %q", count, all.String())
	}
}

// Scenario 6: a persist failure is surfaced to the caller of the rotation
// that provoked it, without corrupting LSN accounting, and an Active segment
// remains for later writes.
func TestScenarioPersistFailureIsolatesToCaller(t *testing.T) {
	st := &memStorage{failOnNth: 2}
	l := newTestLog(t, 2, 4, st)
	ctx := context.Background()

	lsn1, err := l.Write(ctx, []byte("abcd"))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if lsn1 != 0 {
		t.Fatalf("expected lsn=0, got %d", lsn1)
	}

	// Second write provokes a rotation that persists "abcd" (the first
	// persist call) successfully.
	lsn2, err := l.Write(ctx, []byte("efgh"))
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if lsn2 != 4 {
		t.Fatalf("expected lsn=4, got %d", lsn2)
	}

	// Third write provokes a rotation whose persist call (the second) is
	// configured to fail.
	_, err = l.Write(ctx, []byte("ijkl"))

	var storageErr *StorageError
	if err != nil && !errors.As(err, &storageErr) {
		t.Fatalf("expected either success or a *StorageError, got %v", err)
	}

	if err == nil {
		// Segment 0 returned to Queued; accounting must still be sane.
		if l.segments[0].state() != stateQueued {
			t.Fatalf("expected segment 0 Queued, got %v", l.segments[0].state())
		}
	} else {
		if l.Stats().PersistErrors == 0 {
			t.Fatalf("expected PersistErrors counter to reflect the failure")
		}
	}

	// Regardless of outcome, the active segment must still accept writes.
	active := l.segments[l.currentIndex.Load()]
	if active.state() != stateActive {
		t.Fatalf("expected an Active segment to remain after a persist failure, got %v", active.state())
	}
}

// TestRotationSurfacesInvariantViolationWhenRingSaturated covers a ring
// sized too small relative to persistence latency: a storage collaborator
// slow enough to never return can't be exercised by a blocking fake without
// added complexity, so this instead pins a segment in Writing directly and
// asserts rotation refuses to publish a non-Queued segment as Active.
func TestRotationSurfacesInvariantViolationWhenRingSaturated(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 2, 2, st)
	ctx := context.Background()

	// Manually hold segment 0 in Writing to simulate a backend that never
	// completes, then fill segment 1 and call rotate directly so the
	// 2-segment ring wraps back around to segment 0 while it is still Writing.
	l.segments[0].setState(stateActive)
	if _, _, _, ok := l.segments[0].tryReserve(2); !ok {
		t.Fatalf("setup: expected reservation to succeed")
	}
	l.segments[0].finishWrite()
	if !l.segments[0].tryBeginWriting() {
		t.Fatalf("setup: expected tryBeginWriting to succeed")
	}
	// segment 0 is now stuck in Writing; segment 1 is Queued, not Active.
	l.segments[1].setState(stateActive)
	l.currentIndex.Store(1)

	if _, _, _, ok := l.segments[1].tryReserve(2); !ok {
		t.Fatalf("setup: expected reservation on segment 1 to succeed")
	}
	l.segments[1].finishWrite()

	err := l.rotate(ctx)
	var inv *InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("expected *InvariantViolation when the rotation target is not Queued, got %v", err)
	}
}

func TestLogFlushDoesNotRotate(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 2, 64, st)
	ctx := context.Background()

	if _, err := l.Write(ctx, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if l.segments[0].state() != stateActive {
		t.Fatalf("expected Flush to leave the Active segment untouched, got %v", l.segments[0].state())
	}
	if got := l.Stats().Rotations; got != 0 {
		t.Fatalf("expected Flush not to trigger a rotation, got %d rotations", got)
	}
}

// TestInvariantsHoldUnderConcurrentLoad is a lightweight property check run
// after a burst of concurrent writes across many rotations: exactly one
// Active segment, no writer count underflow, and no segment cursor past
// its own capacity.
func TestInvariantsHoldUnderConcurrentLoad(t *testing.T) {
	st := &memStorage{}
	l := newTestLog(t, 4, 16, st)
	ctx := context.Background()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				msg := []byte(fmt.Sprintf("writer-%d-msg-%d", id, j))
				if _, err := l.Write(ctx, msg); err != nil {
					var inv *InvariantViolation
					if !errors.As(err, &inv) {
						t.Errorf("unexpected error: %v", err)
					}
					return
				}
			}
		}(i)
	}
	wg.Wait()

	activeCount := 0
	for _, seg := range l.segments {
		if seg.writerCount() > 1<<61 {
			t.Fatalf("writer count appears to have underflowed: %d", seg.writerCount())
		}
		if seg.writerCount() > 0 && seg.state() != stateActive {
			t.Fatalf("segment has writer_count > 0 but state %v", seg.state())
		}
		if seg.buf.pos() > seg.buf.capacityBytes() {
			t.Fatalf("segment cursor %d exceeds capacity %d", seg.buf.pos(), seg.buf.capacityBytes())
		}
		if seg.state() == stateActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one Active segment, found %d", activeCount)
	}
}
