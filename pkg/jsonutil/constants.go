package jsonutil

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOutput is returned by Unmarshal when its target is nil.
	ErrInvalidOutput = errors.New("jsonutil: invalid output target")
	// ErrValueTooLarge is returned by Unmarshal when data exceeds MaxJSONSize.
	ErrValueTooLarge = errors.New("jsonutil: value exceeds MaxJSONSize")
)

// wrapError prefixes err with msg, keeping err reachable via errors.Is/As.
func wrapError(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

const (
	// Indentation used when saving a common.Config back to disk.
	DefaultJSONIndent = "  "
	DefaultJSONPrefix = ""

	// Error Messages
	ErrInvalidJSON    = "invalid JSON format"
	ErrTypeMismatch   = "type mismatch in JSON conversion"
	ErrNilValue       = "nil value encountered"
	ErrUnknownField   = "unknown field in JSON"
	ErrDuplicateField = "duplicate field in JSON"

	// Buffer Sizes
	DefaultBufferSize = 4096
	// MaxJSONSize bounds a single wire frame's JSON body (pkg/wire's
	// length-prefix codec checks a frame's declared length against this
	// before allocating a buffer for it).
	MaxJSONSize = 10 * 1024 * 1024 // 10MB
)
