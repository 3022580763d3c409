// Package observability provides lookup statistics tracking for surfacing
// hot debug-ids and URLs and monitoring resolution health.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Lookup key kinds tracked by the stats.
const (
	KindDebugID = "debug_id"
	KindURL     = "url"
)

// LookupStats tracks per-key lookup frequency and hit/miss counts.
type LookupStats struct {
	mu   sync.RWMutex
	keys map[string]*KeyStats
}

// KeyStats holds statistics for one lookup key.
type KeyStats struct {
	Kind      string
	Key       string
	Hits      int64
	Misses    int64
	Frequency int64
	LastSeen  time.Time
}

// NewLookupStats creates a new lookup statistics tracker.
func NewLookupStats() *LookupStats {
	return &LookupStats{keys: make(map[string]*KeyStats)}
}

func (l *LookupStats) record(kind, key string, hit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mapKey := kind + ":" + key
	stats, exists := l.keys[mapKey]
	if !exists {
		stats = &KeyStats{Kind: kind, Key: key}
		l.keys[mapKey] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	if hit {
		stats.Hits++
	} else {
		stats.Misses++
	}
}

// RecordHit records a successful resolution for a key.
func (l *LookupStats) RecordHit(kind, key string) {
	l.record(kind, key, true)
}

// RecordMiss records a failed resolution for a key.
func (l *LookupStats) RecordMiss(kind, key string) {
	l.record(kind, key, false)
}

// TopKeys returns the top N keys by lookup frequency, copied so callers
// cannot mutate internal state.
func (l *LookupStats) TopKeys(n int) []KeyStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.keys) == 0 {
		return []KeyStats{}
	}

	stats := make([]KeyStats, 0, len(l.keys))
	for _, s := range l.keys {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Frequency > stats[j].Frequency
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Totals returns aggregate hit and miss counts across all keys.
func (l *LookupStats) Totals() (hits, misses int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, s := range l.keys {
		hits += s.Hits
		misses += s.Misses
	}
	return hits, misses
}

// Prune drops keys not seen within the window. Returns the number of keys
// removed.
func (l *LookupStats) Prune(window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-window)
	removed := 0
	for key, s := range l.keys {
		if s.LastSeen.Before(cutoff) {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}
