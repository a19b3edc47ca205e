// Package hnserrors defines the error taxonomy used across the resolver
// core. Every component returns one of these kinds rather than an
// uncaught panic or a naked error; see spec §7.
package hnserrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories a component may surface.
type Kind int

const (
	// Unknown is never produced intentionally; it exists so a zero
	// value Error is still a valid, printable error.
	Unknown Kind = iota

	// FormatError covers malformed frames, bad header length, bad
	// varints. Locally recovered by dropping the frame.
	FormatError

	// ProtocolError covers handshake timeout, unexpected message,
	// magic mismatch. Closes the session and increments peer errors.
	ProtocolError

	// ChainError covers prev_block mismatch, PoW failure, or
	// overshoot of known_network_height. Aborts the current batch.
	ChainError

	// ProofError means a proof did not verify against name_root.
	ProofError

	// NotFound means a peer returned an authoritative notfound.
	NotFound

	// IOError covers socket and disk I/O, retried with backoff.
	IOError

	// Busy is a backpressure refusal.
	Busy

	// ConfigError is fatal at startup only.
	ConfigError
)

func (k Kind) String() string {
	switch k {
	case FormatError:
		return "format_error"
	case ProtocolError:
		return "protocol_error"
	case ChainError:
		return "chain_error"
	case ProofError:
		return "proof_error"
	case NotFound:
		return "not_found"
	case IOError:
		return "io_error"
	case Busy:
		return "busy"
	case ConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every component in this
// module. It carries a Kind, a human message, and an optional wrapped
// cause so errors.Is/As/Unwrap work across component boundaries.
type Error struct {
	Kind       Kind
	Message    string
	WrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.WrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.WrappedErr)
}

// Unwrap exposes the wrapped cause to errors.Is/As/Unwrap.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.WrappedErr
}

// Is reports whether target is an *Error with the same Kind. It
// returns false otherwise; errors.Is then continues down the Unwrap
// chain.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var te *Error
	if errors.As(target, &te) {
		if e.Kind == te.Kind {
			return true
		}
	}
	return false
}

// New builds an *Error of the given kind. An optional trailing error
// argument is recorded as the wrapped cause; any other trailing args
// are passed to fmt.Sprintf against msg.
func New(kind Kind, msg string, args ...interface{}) *Error {
	var wrapped error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			wrapped = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Kind: kind, Message: msg, WrappedErr: wrapped}
}

// Wrap builds an *Error of the given kind whose Message is msg and
// whose wrapped cause is err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, WrappedErr: err}
}

// Is reports whether err (or any error in its Unwrap chain) has the
// given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// As is a re-export of errors.As for callers that only import this
// package.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
