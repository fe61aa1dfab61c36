package common

import (
	"strings"
	"sync"
)

// ErrorCode represents a standardized, family-prefixed error code.
type ErrorCode string

const (
	// System errors (1xxx) - transport/process-level failures.
	ErrCodeSystemUnknown           ErrorCode = "SYS_1000"
	ErrCodeSystemNotInitialized    ErrorCode = "SYS_1001"
	ErrCodeSystemShuttingDown      ErrorCode = "SYS_1002"
	ErrCodeSystemResourceExhausted ErrorCode = "SYS_1003"
	ErrCodeSystemTimeout           ErrorCode = "SYS_1004"

	// RPC errors (2xxx) - mirror pkg/wire.ErrorKind for log lines.
	ErrCodeRPCDisconnected              ErrorCode = "RPC_2000"
	ErrCodeRPCDone                      ErrorCode = "RPC_2001"
	ErrCodeRPCNotHandled                ErrorCode = "RPC_2002"
	ErrCodeRPCInvalidArgs               ErrorCode = "RPC_2003"
	ErrCodeRPCIoError                   ErrorCode = "RPC_2004"
	ErrCodeRPCDuplicateFunctionForPeer  ErrorCode = "RPC_2005"
)

// StandardizedError pairs a Go error with a family-prefixed code so log
// lines carry a stable, greppable identifier. The details of RpcResult.Err
// responses the broker synthesizes are plain text and carry no such code.
type StandardizedError struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	InternalError error     `json:"-"`
	RetryableFlag bool      `json:"retryable"`
}

// Error implements the error interface
func (e *StandardizedError) Error() string {
	if e.InternalError != nil {
		return e.Message + ": " + e.InternalError.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StandardizedError) Unwrap() error {
	return e.InternalError
}

// IsRetryable returns true if the error is retryable
func (e *StandardizedError) IsRetryable() bool {
	return e.RetryableFlag
}

// ErrorMapping defines an error code's fixed message and retry policy.
type ErrorMapping struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// ErrorRegistry maps raw Go errors to StandardizedError values by matching
// substrings of Error() against registered patterns, trimmed to the
// families this core emits.
type ErrorRegistry struct {
	mu       sync.RWMutex
	mappings map[ErrorCode]ErrorMapping
	patterns map[string]ErrorCode
}

// NewErrorRegistry creates a new error registry with the default mappings.
func NewErrorRegistry() *ErrorRegistry {
	r := &ErrorRegistry{
		mappings: make(map[ErrorCode]ErrorMapping),
		patterns: make(map[string]ErrorCode),
	}
	r.registerDefaults()
	return r
}

func (r *ErrorRegistry) registerDefaults() {
	r.Register(ErrorMapping{Code: ErrCodeSystemUnknown, Message: "an unknown system error occurred", Retryable: true})
	r.Register(ErrorMapping{Code: ErrCodeSystemTimeout, Message: "operation timed out", Retryable: true})
	r.Register(ErrorMapping{Code: ErrCodeSystemResourceExhausted, Message: "system resources exhausted", Retryable: true})
	r.Register(ErrorMapping{Code: ErrCodeRPCDisconnected, Message: "peer disconnected", Retryable: false})
	r.Register(ErrorMapping{Code: ErrCodeRPCDone, Message: "context already finished", Retryable: false})
	r.Register(ErrorMapping{Code: ErrCodeRPCNotHandled, Message: "no handler accepted the call", Retryable: false})
	r.Register(ErrorMapping{Code: ErrCodeRPCInvalidArgs, Message: "invalid call arguments", Retryable: false})
	r.Register(ErrorMapping{Code: ErrCodeRPCIoError, Message: "transport i/o error", Retryable: true})
	r.Register(ErrorMapping{Code: ErrCodeRPCDuplicateFunctionForPeer, Message: "function already registered for this peer", Retryable: false})

	r.RegisterPattern("context deadline exceeded", ErrCodeSystemTimeout)
	r.RegisterPattern("use of closed network connection", ErrCodeRPCDisconnected)
	r.RegisterPattern("broken pipe", ErrCodeRPCDisconnected)
	r.RegisterPattern("EOF", ErrCodeRPCDisconnected)
}

// Register registers an error mapping
func (r *ErrorRegistry) Register(mapping ErrorMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[mapping.Code] = mapping
}

// RegisterPattern registers an error string pattern to error code mapping
func (r *ErrorRegistry) RegisterPattern(pattern string, code ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[pattern] = code
}

// Map maps a Go error to a standardized error, falling back to
// ErrCodeSystemUnknown when no pattern matches.
func (r *ErrorRegistry) Map(err error) *StandardizedError {
	if err == nil {
		return nil
	}
	if stdErr, ok := err.(*StandardizedError); ok {
		return stdErr
	}

	errStr := err.Error()
	r.mu.RLock()
	for pattern, code := range r.patterns {
		if strings.Contains(errStr, pattern) {
			mapping := r.mappings[code]
			r.mu.RUnlock()
			return &StandardizedError{Code: code, Message: mapping.Message, InternalError: err, RetryableFlag: mapping.Retryable}
		}
	}
	mapping := r.mappings[ErrCodeSystemUnknown]
	r.mu.RUnlock()

	return &StandardizedError{Code: ErrCodeSystemUnknown, Message: mapping.Message, InternalError: err, RetryableFlag: mapping.Retryable}
}

// MapWithCode maps an error to a specific error code
func (r *ErrorRegistry) MapWithCode(err error, code ErrorCode) *StandardizedError {
	if err == nil {
		return nil
	}
	r.mu.RLock()
	mapping, exists := r.mappings[code]
	r.mu.RUnlock()
	if !exists {
		return r.Map(err)
	}
	return &StandardizedError{Code: code, Message: mapping.Message, InternalError: err, RetryableFlag: mapping.Retryable}
}

// GetMapping returns the mapping for an error code
func (r *ErrorRegistry) GetMapping(code ErrorCode) (ErrorMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mapping, exists := r.mappings[code]
	return mapping, exists
}

// globalErrorRegistry is the process-wide registry used by MapError.
var globalErrorRegistry = NewErrorRegistry()

// GetGlobalErrorRegistry returns the global error registry
func GetGlobalErrorRegistry() *ErrorRegistry {
	return globalErrorRegistry
}

// MapError is a convenience function to map an error using the global registry
func MapError(err error) *StandardizedError {
	return globalErrorRegistry.Map(err)
}

// MapErrorWithCode is a convenience function to map an error with a specific code
func MapErrorWithCode(err error, code ErrorCode) *StandardizedError {
	return globalErrorRegistry.MapWithCode(err, code)
}
