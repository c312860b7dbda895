// Package gcs implements wal.Storage against a Google Cloud Storage
// bucket, uploading each rotated segment as a set of chunk objects
// uploaded in parallel and composed into one final object.
package gcs

import (
	"fmt"
	"time"
)

// Config configures Storage.
type Config struct {
	// Bucket is the destination GCS bucket. Required.
	Bucket string

	// ObjectPrefix is prepended to every generated object name, e.g.
	// "wal/shard-3/".
	ObjectPrefix string

	// ChunkSize is the size of each parallel-uploaded chunk.
	ChunkSize int

	// MaxChunksPerCompose bounds how many source objects a single GCS
	// compose call may combine. GCS enforces a hard limit of 32.
	MaxChunksPerCompose int

	// GRPCPoolSize sizes the gRPC connection pool the storage client uses.
	GRPCPoolSize int

	// UploadTimeout bounds a single Persist call.
	UploadTimeout time.Duration
}

// DefaultConfig returns a Config with baseline defaults for the given
// bucket.
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:              bucket,
		ObjectPrefix:        "",
		ChunkSize:           32 * 1024 * 1024,
		MaxChunksPerCompose: 32,
		GRPCPoolSize:        64,
		UploadTimeout:       60 * time.Second,
	}
}

// Validate checks required fields and fills in zero-valued fields with
// defaults.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs: Bucket is required")
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024 * 1024
	}
	if c.MaxChunksPerCompose <= 0 || c.MaxChunksPerCompose > 32 {
		c.MaxChunksPerCompose = 32
	}
	if c.GRPCPoolSize <= 0 {
		c.GRPCPoolSize = 64
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 60 * time.Second
	}
	return nil
}
