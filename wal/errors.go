package wal

import "fmt"

// StorageError wraps a failure returned by the Storage collaborator's
// Persist or Flush operation. For a persist failure, the segment that
// provoked it remains in the Writing state with its bytes intact; no data is
// lost, but the rotation that surfaced this error did not complete the
// hand-off. A flush failure leaves segment state untouched.
type StorageError struct {
	Op  string // "persist" or "flush"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("wal: storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// InvariantViolation is surfaced when the Log detects it cannot continue
// correctly — e.g. the segment a rotation is about to publish as Active is
// not Queued, which means the ring is saturated relative to persistence
// latency or an implementation bug has corrupted state. The Log does not
// attempt to recover from this on its own.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("wal: invariant violation (%s): %s", e.Invariant, e.Detail)
}
