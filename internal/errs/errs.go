// Package errs defines the typed error taxonomy shared by every core
// subsystem (spec §7) and a small wrap helper in the teacher's style.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so that callers at a component boundary can
// decide between retry, reassignment, demotion, or a fatal abort without
// string-matching error messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindTimeout
	KindSignatureInvalid
	KindIntegrityMismatch
	KindQuotaExceeded
	KindPeerUnreachable
	KindRelayReservationFailed
	KindBlacklisted
	KindCancelled
	KindConfigurationError
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindTimeout:
		return "Timeout"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindIntegrityMismatch:
		return "IntegrityMismatch"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindPeerUnreachable:
		return "PeerUnreachable"
	case KindRelayReservationFailed:
		return "RelayReservationFailed"
	case KindBlacklisted:
		return "Blacklisted"
	case KindCancelled:
		return "Cancelled"
	case KindConfigurationError:
		return "ConfigurationError"
	case KindValidation:
		return "Validation"
	default:
		return "Unknown"
	}
}

// Error is a typed error carrying a Kind plus a human-readable detail and
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a typed Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrapf creates a typed Error wrapping cause, formatting detail.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// Wrap adds context to err's message, mirroring the teacher's
// pkg/utils.Wrap. Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// KindUnknown if no *Error is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var (
	// ErrNotFound is a sentinel for the common "not found" case, usable
	// directly with errors.Is when no extra detail is needed.
	ErrNotFound = New(KindNotFound, "not found")
	// ErrCancelled is a sentinel for cooperative cancellation.
	ErrCancelled = New(KindCancelled, "cancelled")
)
