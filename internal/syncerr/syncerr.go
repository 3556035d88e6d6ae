// Package syncerr defines the error taxonomy shared by the sync engine.
//
// Every failure that can cross a component boundary is tagged with a Kind so
// that callers switch on an explicit value instead of on concrete error types.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a failure for retry and propagation decisions
type Kind int

const (
	// KindSystem is an unexpected failure that aborts the current cycle
	KindSystem Kind = iota
	// KindValidation is a data-quality problem isolated to one record group
	KindValidation
	// KindTransient is expected to resolve on retry without intervention
	KindTransient
	// KindConfiguration is a missing or invalid setting detected at startup
	KindConfiguration
)

// String returns the lower-case name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindConfiguration:
		return "configuration"
	case KindSystem:
		return "system"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is an error tagged with a Kind
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind implements Classified
func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// Classified is implemented by errors that carry their own Kind. Packages
// with richer error types implement it so KindOf sees through them.
type Classified interface {
	error
	ErrorKind() Kind
}

// New wraps err with the given kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation wraps err as a validation failure
func Validation(op string, err error) error {
	return New(KindValidation, op, err)
}

// Validationf builds a validation failure from a format string
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Transient wraps err as a transient failure
func Transient(op string, err error) error {
	return New(KindTransient, op, err)
}

// System wraps err as a system failure
func System(op string, err error) error {
	return New(KindSystem, op, err)
}

// Configuration wraps err as a configuration failure
func Configuration(op string, err error) error {
	return New(KindConfiguration, op, err)
}

// statusCoder is implemented by errors that carry an HTTP status code
type statusCoder interface {
	HTTPStatusCode() int
}

// KindOf returns the Kind of err.
//
// The outermost Classified error in the chain wins. Errors without an explicit tag are
// classified by inspection: deadlines, network timeouts, connection resets and
// server-side HTTP failures are transient; everything else is a system error.
// Cancellation is never transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindSystem
	}

	var tagged Classified
	if errors.As(err, &tagged) {
		return tagged.ErrorKind()
	}

	if errors.Is(err, context.Canceled) {
		return KindSystem
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindSystem
}

// IsTransient reports whether an untagged error looks like a failure that
// resolves by waiting
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatusCode() >= 500
	}

	return false
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
