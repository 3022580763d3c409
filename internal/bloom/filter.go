// Package bloom provides the per-bundle debug-id membership filter used to
// pre-screen lookup candidates before touching the catalog. It guarantees no
// false negatives: a debug-id that was added always reports present.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Default sizing for bundles whose entry count is unknown.
const (
	defaultExpectedItems = 1024
	defaultTargetFPR     = 0.01
)

// Filter is a murmur3 double-hashed bloom filter over normalized debug-id
// strings.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter sized for the expected number of debug-ids and target
// false positive rate. Out-of-range arguments fall back to defaults.
func New(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := optimalParameters(expectedItems, targetFPR)

	// Round up to whole 64-bit words.
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// FromDebugIDs builds a filter covering every id in the set.
func FromDebugIDs(ids []string) *Filter {
	f := New(len(ids), defaultTargetFPR)
	for _, id := range ids {
		f.Add(id)
	}
	return f
}

// optimalParameters computes bit and hash counts from the standard sizing
// formulas: m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2).
func optimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = defaultExpectedItems
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = defaultTargetFPR
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records a normalized debug-id in the filter.
func (f *Filter) Add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := hash128(id)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// Contains reports whether the id might be in the filter. False positives
// are possible; false negatives are not.
func (f *Filter) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := hash128(id)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

func hash128(id string) (uint64, uint64) {
	h := murmur3.New128()
	h.Write([]byte(id))
	return h.Sum128()
}

// NumBits returns the filter width in bits.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash probes per id.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// Count returns the number of ids added.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FalsePositiveRate estimates the current false positive probability from
// the fill ratio: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
