package wal

import "sync/atomic"

// stats holds running atomic counters for a Log, in the style of
// asyncloguploader's Logger.stats block. Observability plumbing beyond this
// is out of scope for the core; no metrics exporter is wired here.
type stats struct {
	writesAccepted atomic.Int64
	bytesWritten   atomic.Int64
	rotations      atomic.Int64
	persistErrors  atomic.Int64
}

// Stats is a point-in-time snapshot of a Log's counters.
type Stats struct {
	WritesAccepted int64
	BytesWritten   int64
	Rotations      int64
	PersistErrors  int64
}

// Stats returns a snapshot of the Log's running counters.
func (l *Log) Stats() Stats {
	return Stats{
		WritesAccepted: l.stat.writesAccepted.Load(),
		BytesWritten:   l.stat.bytesWritten.Load(),
		Rotations:      l.stat.rotations.Load(),
		PersistErrors:  l.stat.persistErrors.Load(),
	}
}
