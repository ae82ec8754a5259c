// Package errors defines the closed error-kind taxonomy shared by every
// engine in ironseal. Collaborators (transport layers, CLI commands, other
// engines) switch on Kind rather than parsing message strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds an engine may return.
type Kind string

const (
	// Sealed is returned when a cryptographic operation is attempted while
	// the master key is not present in memory.
	Sealed Kind = "sealed"
	// AlreadyInitialized is returned by Initialize on an already-initialized store.
	AlreadyInitialized Kind = "already_initialized"
	// NotInitialized is returned when seal lifecycle operations run before Initialize.
	NotInitialized Kind = "not_initialized"
	// InvalidShare is returned for a wrong-length, zero-x, or duplicate unseal share.
	InvalidShare Kind = "invalid_share"
	// VerificationFailed is returned when the reconstructed master key fails
	// the verification-token check.
	VerificationFailed Kind = "verification_failed"
	// NotFound is returned when an entity (path, key, lease, role, policy) is missing.
	NotFound Kind = "not_found"
	// Conflict is returned for CAS mismatches and duplicate-name collisions.
	Conflict Kind = "conflict"
	// Unauthorized is returned when an authorization decision is Deny or NotApplicable.
	Unauthorized Kind = "unauthorized"
	// InvalidArgument is returned for malformed input that cannot be validated.
	InvalidArgument Kind = "invalid_argument"
	// InvalidCiphertext is returned on AEAD authentication failure.
	InvalidCiphertext Kind = "invalid_ciphertext"
	// ConnectorError wraps an external database-connector failure.
	ConnectorError Kind = "connector_error"
	// Unsupported is returned for operations this design deliberately does not support.
	Unsupported Kind = "unsupported"
	// Internal is returned for unexpected failures; details are not surfaced to callers.
	Internal Kind = "internal"
)

// Error is the concrete error type every engine operation returns. It wraps
// an optional underlying cause while pinning the error to a closed Kind so
// callers can branch with errors.Is/errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Op      string // operation name, e.g. "kv.Write", "transit.Decrypt"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Op, e.Message)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind, letting errors.Is(err, E(Kind))
// style comparisons work without exposing the *Error pointer.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error for the given kind and operation.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error that preserves cause for errors.Unwrap chains.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Wrapf builds an *Error with a formatted message, preserving cause.
func Wrapf(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Of reports the Kind of err, or Internal if err is nil or not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
