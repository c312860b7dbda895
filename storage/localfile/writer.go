package localfile

// fileWriter is the platform-specific append path a Storage drives. Linux
// gets Direct I/O (O_DIRECT/O_DSYNC via golang.org/x/sys/unix); every other
// platform falls back to ordinary buffered writes plus an explicit Sync.
type fileWriter interface {
	// WriteAt appends p at the writer's current offset and advances it.
	WriteAt(p []byte) (int, error)

	// Sync forces any buffered bytes to stable storage.
	Sync() error

	// Offset returns the number of bytes written so far.
	Offset() int64

	// Close releases the underlying file descriptor.
	Close() error
}
