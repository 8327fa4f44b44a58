package importer

import (
	"errors"
	"fmt"
)

// ErrBusy is matched by every BusyError.
var ErrBusy = errors.New("an import is already running")

// BusyError is returned by ImportDirectory while another run is active.
type BusyError struct {
	// ActiveID is the handle ID of the run in progress.
	ActiveID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%v (run %s)", ErrBusy, e.ActiveID)
}

// Is lets errors.Is(err, ErrBusy) match.
func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// PathError reports an import root that is missing, not a directory or not
// readable. The run stops before any work.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("import root %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// ParseError reports a single file that could not be read as a DICOM
// instance. It never stops a run.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports a failed index schema check or upgrade. Nothing from
// the run has been committed when it is returned.
type SchemaError struct {
	From, To int
	Err      error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("upgrade index schema from %d to %d: %v", e.From, e.To, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

var errNotDirectory = errors.New("not a directory")
