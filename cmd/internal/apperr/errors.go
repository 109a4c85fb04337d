package apperr

import (
	"context"
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is always one of the sentinel kinds. Msg is human-readable and never carries secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind and the underlying cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound reports a missing order, link, change request or audit entry.
func NotFound(op, msg string) error { return &OpError{Op: op, Kind: ErrNotFound, Msg: msg} }

// Forbidden reports a token that does not grant access.
func Forbidden(op, msg string) error { return &OpError{Op: op, Kind: ErrForbidden, Msg: msg} }

// BadRequest reports an invalid input or transition.
func BadRequest(op, msg string) error { return &OpError{Op: op, Kind: ErrBadRequest, Msg: msg} }

// Internal wraps a failure of a required write or read.
func Internal(op string, err error) error { return &OpError{Op: op, Kind: ErrInternal, Err: err} }

// Wrap passes through errors that already carry a kind and classifies the rest as Internal.
// Context cancellation is returned unchanged so callers can detect it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if KindOf(err) != ErrInternal {
		return err
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return Internal(op, err)
}

// KindOf returns the sentinel kind carried by err, defaulting to ErrInternal.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrForbidden):
		return ErrForbidden
	case errors.Is(err, ErrBadRequest):
		return ErrBadRequest
	default:
		return ErrInternal
	}
}

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsBadRequest reports whether err represents ErrBadRequest.
func IsBadRequest(err error) bool { return errors.Is(err, ErrBadRequest) }
