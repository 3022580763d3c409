// Package cache provides a size-bounded local disk cache for fetched
// bundle archives.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds cache counters for observability.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int64
	SizeBytes int64
}

type entry struct {
	path       string
	size       int64
	lastAccess time.Time
}

// ArchiveCache keeps fetched bundle archives on local disk so repeated
// lookups against the same bundle skip object storage. Entries are
// evicted least-recently-used once the cache exceeds its byte budget.
type ArchiveCache struct {
	dir      string
	maxBytes int64

	mu      sync.Mutex
	entries map[string]*entry
	size    int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates an archive cache rooted at dir. Archives already on disk
// from a previous run are adopted into the index.
func New(dir string, maxBytes int64) (*ArchiveCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: maxBytes must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: failed to create cache dir: %w", err)
	}

	c := &ArchiveCache{
		dir:      dir,
		maxBytes: maxBytes,
		entries:  make(map[string]*entry),
	}
	if err := c.scanExisting(); err != nil {
		return nil, err
	}
	return c, nil
}

// scanExisting rebuilds the index from archives left behind by a
// previous process.
func (c *ArchiveCache) scanExisting() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.zip"))
	if err != nil {
		return fmt.Errorf("cache: failed to scan cache dir: %w", err)
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		id := filepath.Base(path)
		id = id[:len(id)-len(".zip")]
		c.entries[id] = &entry{path: path, size: info.Size(), lastAccess: info.ModTime()}
		c.size += info.Size()
	}
	return nil
}

// GetOrFetch returns the local path of a bundle's archive, running fetch
// to populate the cache on a miss. The returned file stays owned by the
// cache; callers must not remove it.
func (c *ArchiveCache) GetOrFetch(ctx context.Context, bundleID string, fetch func(ctx context.Context, localPath string) error) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[bundleID]; ok {
		e.lastAccess = time.Now()
		c.mu.Unlock()
		c.hits.Add(1)
		return e.path, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	localPath := filepath.Join(c.dir, bundleID+".zip")
	if err := fetch(ctx, localPath); err != nil {
		os.Remove(localPath)
		return "", err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("cache: failed to stat fetched archive: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[bundleID]; !ok {
		c.entries[bundleID] = &entry{path: localPath, size: info.Size(), lastAccess: time.Now()}
		c.size += info.Size()
		c.evict()
	}
	return localPath, nil
}

// Invalidate drops a bundle's archive from the cache, removing it from
// disk. Invalidating an uncached bundle is a no-op.
func (c *ArchiveCache) Invalidate(bundleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[bundleID]
	if !ok {
		return
	}
	delete(c.entries, bundleID)
	c.size -= e.size
	os.Remove(e.path)
}

// evict removes least-recently-used entries until the cache fits its
// byte budget. Caller holds c.mu.
func (c *ArchiveCache) evict() {
	for c.size > c.maxBytes && len(c.entries) > 1 {
		var oldestID string
		var oldest *entry
		for id, e := range c.entries {
			if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
				oldestID, oldest = id, e
			}
		}
		delete(c.entries, oldestID)
		c.size -= oldest.size
		os.Remove(oldest.path)
		c.evictions.Add(1)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *ArchiveCache) Stats() Stats {
	c.mu.Lock()
	entries := int64(len(c.entries))
	size := c.size
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
		SizeBytes: size,
	}
}
