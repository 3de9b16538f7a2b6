package manager

import (
	"fmt"
	"time"
)

// tooBusyError signals generation admission timeout/overflow for 429 mapping.
type tooBusyError struct{}

func (tooBusyError) Error() string { return "generation already in flight: too busy" }

// ErrTooBusy constructs a tooBusyError.
func ErrTooBusy() error { return tooBusyError{} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// notReadyError signals generation was requested before initialization
// completed.
type notReadyError struct{}

func (notReadyError) Error() string { return "model not ready: initialization has not completed" }

// ErrNotReady constructs a notReadyError.
func ErrNotReady() error { return notReadyError{} }

// IsNotReady reports whether err means the pipeline is not initialized yet.
func IsNotReady(err error) bool {
	_, ok := err.(notReadyError)
	return ok
}

// timeoutError signals that generation exceeded its allotted time.
type timeoutError struct{ limit time.Duration }

func (e timeoutError) Error() string { return fmt.Sprintf("generation timed out after %s", e.limit) }

func newTimeoutError(limit time.Duration) error { return timeoutError{limit: limit} }

// ErrTimeout constructs a timeoutError.
func ErrTimeout(limit time.Duration) error { return newTimeoutError(limit) }

// IsTimeout reports whether err is a generation timeout.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// invalidRequestError signals a malformed generation request (bad image
// encoding, empty prompt) for 400 mapping.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// ErrInvalidRequest constructs an invalidRequestError.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err is a malformed request.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}
