package wal

import "context"

// Storage is the external collaborator the core hands rotated segment bytes
// to. It is invoked at most single-threadedly — the Log serializes both
// methods behind its own storage mutex — so implementations need no
// internal locking of their own on this path.
type Storage interface {
	// Persist must accept the entire slice on success; partial acceptance
	// is treated as an error. bytes is only valid for the duration of the
	// call — implementations that need to retain it must copy.
	Persist(ctx context.Context, bytes []byte) (int, error)

	// Flush returns the highest durable LSN known to the backend. It must
	// never report a value exceeding the highest LSN whose bytes have
	// already been handed to Persist. A no-op Flush that returns the last
	// value it reported is permitted.
	Flush(ctx context.Context) (uint64, error)
}
