package acquire

import (
	"fmt"

	"sketchd/internal/common/fsutil"
)

// notFoundError means no local candidate existed and no download source is
// configured.
type notFoundError struct{}

func (notFoundError) Error() string {
	return "no model file found locally and no download URL configured"
}

// IsNotFound reports whether err means nothing was acquirable.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// permissionError means the storage location exists but cannot be used.
type permissionError struct {
	msg  string
	diag fsutil.Diagnostic
}

func (e permissionError) Error() string { return fmt.Sprintf("%s; location %s", e.msg, e.diag) }

// IsPermissionDenied reports whether err means storage access was refused.
func IsPermissionDenied(err error) bool {
	_, ok := err.(permissionError)
	return ok
}

// networkError covers non-2xx responses, empty bodies, and mid-stream I/O
// failures. It carries a diagnostic of the file involved so callers can
// render actionable guidance.
type networkError struct {
	msg  string
	diag fsutil.Diagnostic
}

func (e networkError) Error() string { return fmt.Sprintf("%s; target %s", e.msg, e.diag) }

// IsNetworkError reports whether err came from the download path.
func IsNetworkError(err error) bool {
	_, ok := err.(networkError)
	return ok
}

// copyError covers failures while staging a local candidate file.
type copyError struct {
	msg  string
	diag fsutil.Diagnostic
	err  error
}

func (e copyError) Error() string { return fmt.Sprintf("%s: %v; source %s", e.msg, e.err, e.diag) }

func (e copyError) Unwrap() error { return e.err }

// validationError means an acquired artifact failed the content check.
type validationError struct {
	msg  string
	diag fsutil.Diagnostic
}

func (e validationError) Error() string { return fmt.Sprintf("%s; artifact %s", e.msg, e.diag) }

// IsValidationError reports whether err means the artifact content was
// rejected after acquisition.
func IsValidationError(err error) bool {
	_, ok := err.(validationError)
	return ok
}
