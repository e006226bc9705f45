package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// invariantMarker is implemented by error types that indicate an internal
// invariant violation (logged, never propagated as a crash).
type invariantMarker interface {
	error
	isInvariant()
}

// TransientError indicates an upstream failure that is safe to retry
// (TCP read timeout, VLM/MCP 5xx).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient error: %s", e.Op)
	}
	return fmt.Sprintf("transient error: %s: %v", e.Op, e.Err)
}
func (e *TransientError) Unwrap() error { return e.Err }

// MalformedInputError indicates input that cannot be processed and must be
// dropped (JPEG decode failure, oversize frame).
type MalformedInputError struct {
	Op  string
	Err error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed input: %s", e.Op)
	}
	return fmt.Sprintf("malformed input: %s: %v", e.Op, e.Err)
}
func (e *MalformedInputError) Unwrap() error { return e.Err }

// ProtocolError indicates wire-framing corruption that requires resetting
// the connection.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// InvariantError indicates an internal invariant was violated (task id
// mismatch on release, unexpected registry state). Policy: log and no-op,
// never propagate as a crash.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invariant violation: %s", e.Op)
	}
	return fmt.Sprintf("invariant violation: %s: %v", e.Op, e.Err)
}
func (e *InvariantError) Unwrap() error { return e.Err }
func (e *InvariantError) isInvariant()  {}

// SaturationError indicates a bounded resource (viewer queue) is full and
// the oldest entry was dropped. Used for logging/counters only.
type SaturationError struct {
	Op  string
	Err error
}

func (e *SaturationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("saturation: %s", e.Op)
	}
	return fmt.Sprintf("saturation: %s: %v", e.Op, e.Err)
}
func (e *SaturationError) Unwrap() error { return e.Err }

// TimeoutError indicates an operation exceeded a deadline (VLM/MCP call,
// question auto-clear).
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// ShutdownError indicates in-flight work was cancelled because the system
// is shutting down.
type ShutdownError struct {
	Op  string
	Err error
}

func (e *ShutdownError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("shutdown: %s", e.Op)
	}
	return fmt.Sprintf("shutdown: %s: %v", e.Op, e.Err)
}
func (e *ShutdownError) Unwrap() error { return e.Err }

// ConfigError indicates a rejected configuration: an unknown top-level
// section, a malformed value, or a violated invariant in Config.Validate.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("config error: %s", e.Op)
	}
	return fmt.Sprintf("config error: %s: %v", e.Op, e.Err)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfig returns true if the error chain contains a ConfigError.
func IsConfig(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	return stdErrors.As(err, &ce)
}

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline exceeded, or any error type that exposes Timeout() bool and
// returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsInvariant returns true if the error chain contains an InvariantError.
func IsInvariant(err error) bool {
	if err == nil {
		return false
	}
	var im invariantMarker
	return stdErrors.As(err, &im)
}

// IsShutdown returns true if the error chain contains a ShutdownError or
// wraps context.Canceled.
func IsShutdown(err error) bool {
	if err == nil {
		return false
	}
	var se *ShutdownError
	if stdErrors.As(err, &se) {
		return true
	}
	return stdErrors.Is(err, context.Canceled)
}

// Constructors (encourage contextual wrapping with %w when used by callers).
func NewTransientError(op string, cause error) error {
	return &TransientError{Op: op, Err: cause}
}
func NewMalformedInputError(op string, cause error) error {
	return &MalformedInputError{Op: op, Err: cause}
}
func NewProtocolError(op string, cause error) error {
	return &ProtocolError{Op: op, Err: cause}
}
func NewInvariantError(op string, cause error) error {
	return &InvariantError{Op: op, Err: cause}
}
func NewSaturationError(op string, cause error) error {
	return &SaturationError{Op: op, Err: cause}
}
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
func NewShutdownError(op string, cause error) error {
	return &ShutdownError{Op: op, Err: cause}
}
func NewConfigError(op string, cause error) error {
	return &ConfigError{Op: op, Err: cause}
}

// Usage pattern example:
//  if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
//      return NewTimeoutError("frame.read", d, fmt.Errorf("io: %w", err))
//  }
// Keep layering context with fmt.Errorf("...: %w", err).
