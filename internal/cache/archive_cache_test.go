package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFetcher(content []byte) func(ctx context.Context, localPath string) error {
	return func(ctx context.Context, localPath string) error {
		return os.WriteFile(localPath, content, 0644)
	}
}

func TestGetOrFetchCachesAcrossCalls(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	require.NoError(t, err)

	ctx := context.Background()
	fetches := 0
	fetch := func(ctx context.Context, localPath string) error {
		fetches++
		return os.WriteFile(localPath, []byte("archive"), 0644)
	}

	path1, err := c.GetOrFetch(ctx, "bundle-a", fetch)
	require.NoError(t, err)
	path2, err := c.GetOrFetch(ctx, "bundle-a", fetch)
	require.NoError(t, err)

	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, fetches)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestGetOrFetchPropagatesFetchError(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, err = c.GetOrFetch(context.Background(), "bundle-a", func(ctx context.Context, localPath string) error {
		return os.ErrPermission
	})
	require.Error(t, err)
	assert.Equal(t, int64(0), c.Stats().Entries)
}

func TestEvictionDropsLeastRecentlyUsed(t *testing.T) {
	c, err := New(t.TempDir(), 25)
	require.NoError(t, err)

	ctx := context.Background()
	tenBytes := writeFetcher([]byte("0123456789"))

	_, err = c.GetOrFetch(ctx, "bundle-a", tenBytes)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = c.GetOrFetch(ctx, "bundle-b", tenBytes)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	// Touch a so b becomes the eviction victim.
	_, err = c.GetOrFetch(ctx, "bundle-a", tenBytes)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	pathC, err := c.GetOrFetch(ctx, "bundle-c", tenBytes)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(2), stats.Entries)
	assert.FileExists(t, pathC)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(pathC), "bundle-b.zip"))
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	require.NoError(t, err)

	path, err := c.GetOrFetch(context.Background(), "bundle-a", writeFetcher([]byte("archive")))
	require.NoError(t, err)

	c.Invalidate("bundle-a")
	assert.NoFileExists(t, path)
	assert.Equal(t, int64(0), c.Stats().Entries)

	c.Invalidate("bundle-a")
}

func TestNewAdoptsExistingArchives(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle-a.zip"), []byte("archive"), 0644))

	c, err := New(dir, 1<<20)
	require.NoError(t, err)

	fetches := 0
	_, err = c.GetOrFetch(context.Background(), "bundle-a", func(ctx context.Context, localPath string) error {
		fetches++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fetches)
	assert.Equal(t, int64(1), c.Stats().Entries)
}

func TestNewRejectsNonPositiveBudget(t *testing.T) {
	_, err := New(t.TempDir(), 0)
	require.Error(t, err)
}
