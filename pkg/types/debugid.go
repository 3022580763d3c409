// Package types provides core data types for the Lumen platform.
package types

import (
	"strconv"
	"strings"
)

// DebugID represents a canonical debug identifier embedded in build artifacts.
// The core is a 128-bit UUID; breakpad-style identifiers carry an additional
// 32-bit appendix (the "age") after the UUID.
//
// Canonical textual form: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx, followed by
// "-<appendix hex>" when the appendix is non-zero.
type DebugID struct {
	uuid     [16]byte
	appendix uint32
}

// NullDebugID is the canonical form of the all-zero debug identifier. It is
// stored in place of NULL in the catalog because uniqueness constraints do
// not play well with nullable columns (NULL != NULL).
const NullDebugID = "00000000-0000-0000-0000-000000000000"

const hexDigits = "0123456789abcdef"

// ParseDebugID parses a debug identifier in any of its surface forms:
// hyphenated or plain hex, any case, with an optional breakpad appendix of
// up to eight trailing hex digits. Two inputs denoting the same identity
// always parse to the same DebugID.
func ParseDebugID(s string) (DebugID, error) {
	hex := strings.ReplaceAll(strings.TrimSpace(s), "-", "")

	if len(hex) < 32 || len(hex) > 40 {
		return DebugID{}, ErrInvalidDebugIDLength
	}

	var id DebugID
	for i := 0; i < 32; i += 2 {
		hi := decodeHex(hex[i])
		lo := decodeHex(hex[i+1])
		if hi == 0xFF || lo == 0xFF {
			return DebugID{}, ErrInvalidDebugIDCharacter
		}
		id.uuid[i/2] = hi<<4 | lo
	}

	// Trailing hex digits beyond the UUID are the breakpad age appendix.
	if len(hex) > 32 {
		appendix, err := strconv.ParseUint(hex[32:], 16, 32)
		if err != nil {
			return DebugID{}, ErrInvalidDebugIDCharacter
		}
		id.appendix = uint32(appendix)
	}

	return id, nil
}

// NormalizeDebugID canonicalizes a raw debug identifier string.
// Malformed input yields ok=false; callers indexing manifest entries must
// treat that as "skip this entry", never as a failure of the batch.
func NormalizeDebugID(raw string) (string, bool) {
	id, err := ParseDebugID(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// String returns the canonical textual form of the debug identifier.
func (d DebugID) String() string {
	var buf [36]byte
	j := 0
	for i, b := range d.uuid {
		if i == 4 || i == 6 || i == 8 || i == 10 {
			buf[j] = '-'
			j++
		}
		buf[j] = hexDigits[b>>4]
		buf[j+1] = hexDigits[b&0x0F]
		j += 2
	}
	if d.appendix == 0 {
		return string(buf[:])
	}
	return string(buf[:]) + "-" + strconv.FormatUint(uint64(d.appendix), 16)
}

// Appendix returns the breakpad age appendix, zero for plain UUID ids.
func (d DebugID) Appendix() uint32 {
	return d.appendix
}

// IsNull reports whether the identifier is the all-zero sentinel.
func (d DebugID) IsNull() bool {
	if d.appendix != 0 {
		return false
	}
	for _, b := range d.uuid {
		if b != 0 {
			return false
		}
	}
	return true
}

// Compare compares two DebugIDs byte-wise, appendix last.
// Returns -1 if d < other, 0 if equal, 1 if d > other.
func (d DebugID) Compare(other DebugID) int {
	for i := 0; i < 16; i++ {
		if d.uuid[i] < other.uuid[i] {
			return -1
		}
		if d.uuid[i] > other.uuid[i] {
			return 1
		}
	}
	switch {
	case d.appendix < other.appendix:
		return -1
	case d.appendix > other.appendix:
		return 1
	}
	return 0
}

// decodeHex decodes a single hex character. Returns 0xFF for invalid input.
func decodeHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0xFF
	}
}
