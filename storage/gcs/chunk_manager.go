package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// chunkManager folds a segment's uploaded chunk objects down to one final
// object, composing in levels until the chunk count fits GCS's per-compose
// source limit. Every group within a level composes concurrently via
// errgroup, and each level's inputs are deleted concurrently once its
// outputs exist, so a four-level reduction over a deep chunk set pays for
// its height in depth, not in per-group latency multiplied by width.
type chunkManager struct {
	maxChunksPerCompose int
	logger              zerolog.Logger
}

func newChunkManager(maxChunksPerCompose int, logger zerolog.Logger) *chunkManager {
	if maxChunksPerCompose <= 0 {
		maxChunksPerCompose = 32
	}
	return &chunkManager{maxChunksPerCompose: maxChunksPerCompose, logger: logger}
}

// compose reduces chunkObjects to a single final object named object. The
// caller retains ownership of chunkObjects itself — compose only ever
// deletes the intermediate objects it creates along the way.
func (cm *chunkManager) compose(ctx context.Context, client *storage.Client, bucket, object string, chunkObjects []string) error {
	if len(chunkObjects) == 0 {
		return fmt.Errorf("gcs: no chunks to compose")
	}

	level := 0
	current := chunkObjects
	for len(current) > cm.maxChunksPerCompose {
		next, err := cm.reduceLevel(ctx, client, bucket, object, level, current)
		if err != nil {
			return err
		}
		if level > 0 {
			cm.cleanup(ctx, client, bucket, current)
		}
		current = next
		level++
	}

	if err := cm.composeGroup(ctx, client, bucket, object, current); err != nil {
		return err
	}
	if level > 0 {
		cm.cleanup(ctx, client, bucket, current)
	}
	return nil
}

// reduceLevel splits sources into maxChunksPerCompose-wide groups and
// composes every group concurrently into its own intermediate object,
// returning the names produced. A failure in any group aborts the whole
// level and cleans up whatever intermediates the other groups finished.
func (cm *chunkManager) reduceLevel(ctx context.Context, client *storage.Client, bucket, object string, level int, sources []string) ([]string, error) {
	numGroups := (len(sources) + cm.maxChunksPerCompose - 1) / cm.maxChunksPerCompose
	outputs := make([]string, numGroups)

	group, gctx := errgroup.WithContext(ctx)
	for g := 0; g < numGroups; g++ {
		g := g
		start := g * cm.maxChunksPerCompose
		end := start + cm.maxChunksPerCompose
		if end > len(sources) {
			end = len(sources)
		}
		out := fmt.Sprintf("%s.level%d.%d", object, level, g)
		outputs[g] = out

		group.Go(func() error {
			return cm.composeGroup(gctx, client, bucket, out, sources[start:end])
		})
	}

	if err := group.Wait(); err != nil {
		cm.cleanup(context.Background(), client, bucket, outputs)
		return nil, fmt.Errorf("gcs: reduce level %d: %w", level, err)
	}
	return outputs, nil
}

// composeGroup runs a single GCS compose call over sources, which must
// already fit within the per-compose source limit.
func (cm *chunkManager) composeGroup(ctx context.Context, client *storage.Client, bucket, object string, sources []string) error {
	if len(sources) > cm.maxChunksPerCompose {
		return fmt.Errorf("gcs: too many chunks (%d), max is %d", len(sources), cm.maxChunksPerCompose)
	}

	bkt := client.Bucket(bucket)
	dst := bkt.Object(object)

	handles := make([]*storage.ObjectHandle, len(sources))
	for i, name := range sources {
		handles[i] = bkt.Object(name)
	}

	composer := dst.ComposerFrom(handles...)
	composer.ContentType = "application/octet-stream"

	if _, err := composer.Run(ctx); err != nil {
		return fmt.Errorf("gcs: compose %s: %w", object, err)
	}
	return nil
}

// cleanup deletes objects concurrently. Failures are logged, not
// returned: an orphaned intermediate object is a storage-cost concern,
// not a correctness one, since it is never referenced by the final
// composed object.
func (cm *chunkManager) cleanup(ctx context.Context, client *storage.Client, bucket string, objects []string) {
	bkt := client.Bucket(bucket)
	group, gctx := errgroup.WithContext(ctx)
	for _, name := range objects {
		name := name
		group.Go(func() error {
			if err := bkt.Object(name).Delete(gctx); err != nil {
				cm.logger.Warn().Str("object", name).Err(err).Msg("failed to clean up intermediate chunk object")
			}
			return nil
		})
	}
	_ = group.Wait()
}
