// Package fault classifies errors crossing package boundaries.
//
// Callers branch on the kind of an error instead of its text: a missing
// instance is [NotFound], an unreachable host is [Transport], a rejected cloud
// request is [Provisioning] and a malformed config file is [Configuration].
// Non-zero command exit codes are not errors and never carry a kind.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind int

const (
	// Unknown is the kind of errors that were never classified.
	Unknown Kind = iota
	// Transport means the host could not be reached or the transport rejected us.
	Transport
	// NotFound means the requested resource does not exist.
	NotFound
	// Provisioning means the cloud vendor rejected a request.
	Provisioning
	// Configuration means credentials or configuration are malformed.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case NotFound:
		return "not found"
	case Provisioning:
		return "provisioning"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf classifies err and prefixes it with a message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)}
}

// KindOf returns the outermost kind found in the chain of err.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return Is(err, NotFound)
}

// IsTransport reports whether err is a Transport error.
func IsTransport(err error) bool {
	return Is(err, Transport)
}
