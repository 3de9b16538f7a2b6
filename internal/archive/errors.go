package archive

import (
	"fmt"

	"sketchd/internal/common/fsutil"
)

// noModelEntryError signals that the archive held no recognizable model
// payload. The target file is guaranteed absent when this is returned.
type noModelEntryError struct{ path string }

func (e noModelEntryError) Error() string { return "no model file found in archive: " + e.path }

// IsNoModelEntry reports whether err means the archive contained nothing
// loadable.
func IsNoModelEntry(err error) bool {
	_, ok := err.(noModelEntryError)
	return ok
}

// extractionError wraps a stream failure together with a diagnostic of the
// source archive, so callers can surface actionable detail for corrupted or
// truncated downloads.
type extractionError struct {
	op   string
	diag fsutil.Diagnostic
	err  error
}

func (e extractionError) Error() string {
	return fmt.Sprintf("%s: %v; source %s", e.op, e.err, e.diag)
}

func (e extractionError) Unwrap() error { return e.err }

// IsExtractionError reports whether err came from a failed extraction stream.
func IsExtractionError(err error) bool {
	_, ok := err.(extractionError)
	return ok
}
