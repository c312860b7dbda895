package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig("my-bucket")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "my-bucket", cfg.Bucket)
	assert.Equal(t, 32, cfg.MaxChunksPerCompose)
}

func TestValidateRequiresBucket(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateClampsChunksPerComposeToGCSLimit(t *testing.T) {
	cfg := DefaultConfig("b")
	cfg.MaxChunksPerCompose = 500
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32, cfg.MaxChunksPerCompose)
}

func TestValidateFillsZeroValueDefaults(t *testing.T) {
	cfg := Config{Bucket: "b"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32*1024*1024, cfg.ChunkSize)
	assert.Equal(t, 64, cfg.GRPCPoolSize)
	assert.Greater(t, cfg.UploadTimeout.Seconds(), float64(0))
}
