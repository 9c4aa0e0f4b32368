// Package xerrors defines the fatal-error taxonomy every gitup component
// reports through. Every error the core returns carries one of these kinds
// so the CLI can print a short message and exit non-zero, per the "all
// errors are fatal" policy.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind names one of the fatal error categories a gitup run can end in.
type Kind int

const (
	ConfigInvalid Kind = iota
	TransportFailure
	HTTPError
	UnsupportedProtocol
	RefNotFound
	MalformedChunking
	PackChecksumMismatch
	UnsupportedPackVersion
	ZlibFailure
	OrphanOfsDelta
	MissingDeltaBase
	MissingObject
	DeltaOverflow
	CoexistenceRefused
	PathEscape
	TooManyRepairs
	IOFailure
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "ConfigInvalid"
	case TransportFailure:
		return "TransportFailure"
	case HTTPError:
		return "HttpError"
	case UnsupportedProtocol:
		return "UnsupportedProtocol"
	case RefNotFound:
		return "RefNotFound"
	case MalformedChunking:
		return "MalformedChunking"
	case PackChecksumMismatch:
		return "PackChecksumMismatch"
	case UnsupportedPackVersion:
		return "UnsupportedPackVersion"
	case ZlibFailure:
		return "ZlibFailure"
	case OrphanOfsDelta:
		return "OrphanOfsDelta"
	case MissingDeltaBase:
		return "MissingDeltaBase"
	case MissingObject:
		return "MissingObject"
	case DeltaOverflow:
		return "DeltaOverflow"
	case CoexistenceRefused:
		return "CoexistenceRefused"
	case PathEscape:
		return "PathEscape"
	case TooManyRepairs:
		return "TooManyRepairs"
	case IOFailure:
		return "IoFailure"
	default:
		return "UnknownError"
	}
}

// Error is a fatal, typed error. HTTPError-kind errors carry their status
// code in Code; all others carry an optional wrapped cause in Err.
type Error struct {
	Kind Kind
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == HTTPError {
		return fmt.Sprintf("%s: status %d", e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under the given kind.
func New(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// NewHTTP reports a non-2xx response status.
func NewHTTP(code int) *Error {
	return &Error{Kind: HTTPError, Code: code}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
