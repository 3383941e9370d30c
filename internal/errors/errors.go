// Package errors consolidates error definitions for the tickvault daemon.
//
// This package provides:
// - Sentinel errors for all recoverable fault classes
// - Fault category checking functions
// - Error wrapping utilities
//
// The fault classes mirror the recovery policy applied to each:
// transport faults are retried with backoff, decode faults drop a single
// message, persistence faults are retried on the next cycle, and
// configuration faults abort startup.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Transport faults: recovered by reconnect with backoff, never fatal.
	ErrTransport      = errors.New("transport fault")
	ErrConnectionDead = fmt.Errorf("%w: connection dead", ErrTransport)
	ErrPingFailed     = fmt.Errorf("%w: ping failed", ErrTransport)
	ErrSubscribeAck   = fmt.Errorf("%w: no subscription acknowledgement", ErrTransport)

	// Decode faults: recovered by dropping the single message.
	ErrDecode = errors.New("decode fault")

	// Routing faults: redirected to the unknown-message log.
	ErrUnroutable = errors.New("message has no routable topic")

	// Persistence faults: recovered by retry-next-cycle or skip-and-continue.
	ErrPersistence    = errors.New("persistence fault")
	ErrWriteFailed    = fmt.Errorf("%w: write failed", ErrPersistence)
	ErrCompressFailed = fmt.Errorf("%w: compress failed", ErrPersistence)
	ErrDeleteFailed   = fmt.Errorf("%w: delete failed", ErrPersistence)

	// Configuration faults: surfaced immediately, process does not start.
	ErrConfig          = errors.New("configuration fault")
	ErrManifestMissing = fmt.Errorf("%w: subscription manifest missing or empty", ErrConfig)
	ErrChannelURL      = fmt.Errorf("%w: no endpoint URL for channel group", ErrConfig)
)

// ============================================================================
// Category checks
// ============================================================================

// IsTransportFault reports whether err belongs to the transport fault class.
func IsTransportFault(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsDecodeFault reports whether err belongs to the decode fault class.
func IsDecodeFault(err error) bool {
	return errors.Is(err, ErrDecode)
}

// IsPersistenceFault reports whether err belongs to the persistence fault class.
func IsPersistenceFault(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsConfigFault reports whether err is a fatal configuration fault.
func IsConfigFault(err error) bool {
	return errors.Is(err, ErrConfig)
}

// ============================================================================
// Wrapping utilities
// ============================================================================

// Transportf wraps an error into the transport fault class with context.
func Transportf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

// Decodef wraps an error into the decode fault class with context.
func Decodef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

// Persistencef wraps an error into the persistence fault class with context.
func Persistencef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPersistence, fmt.Sprintf(format, args...))
}

// Configf wraps an error into the configuration fault class with context.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// New returns an error that formats as the given text.
// Re-exported so callers need only this package.
func New(text string) error { return errors.New(text) }
