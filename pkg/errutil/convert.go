package errutil

import (
	"context"
	"errors"
)

// From normalises any error into a BaseError so transports can render it.
// Errors that only expose Status() keep their status and message.
func From(err error) BaseError {
	if err == nil {
		return BaseError{}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base
	}

	if errors.Is(err, context.Canceled) {
		return BaseError{Code: StatusClientClosedRequest, Message: err.Error(), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return BaseError{Code: StatusTimeout, Message: err.Error(), Err: err}
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return BaseError{Code: coder.Status(), Message: err.Error(), Err: err}
	}

	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}

// Is reports whether err carries the given status.
func Is(err error, code CoreStatus) bool {
	if err == nil {
		return false
	}
	return From(err).Code == code
}
