package types

import "errors"

// DebugID-related errors
var (
	// ErrInvalidDebugIDLength is returned when a debug id has fewer than 32
	// or more than 40 hex digits after hyphen stripping
	ErrInvalidDebugIDLength = errors.New("invalid debug id length")

	// ErrInvalidDebugIDCharacter is returned when a debug id contains
	// non-hexadecimal characters
	ErrInvalidDebugIDCharacter = errors.New("invalid debug id character")
)
