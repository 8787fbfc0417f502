package core

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrSourceRead = errors.New("source read error")
	ErrFormat     = errors.New("format error")
	ErrConnection = errors.New("connection error")
	ErrWrite      = errors.New("write error")
	ErrStoreRead  = errors.New("store read error")
)

// PipelineError is a failure in one pipeline step, tagged with its kind.
type PipelineError struct {
	Kind error  // one of the Err* sentinels
	Op   string // step that failed, e.g. "read source", "append raw"
	Err  error  // underlying cause, may be nil
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// SourceReadError reports an input file that is missing, unreadable, or not tabular.
func SourceReadError(op string, err error) error { return newError(ErrSourceRead, op, err) }

// FormatError reports an input file that fails structural validation.
func FormatError(op string, err error) error { return newError(ErrFormat, op, err) }

// ConnectionError reports a store that could not be reached.
func ConnectionError(op string, err error) error { return newError(ErrConnection, op, err) }

// WriteError reports a persistence failure other than a duplicate-id skip.
func WriteError(op string, err error) error { return newError(ErrWrite, op, err) }

// StoreReadError reports a failed read from the staging store.
func StoreReadError(op string, err error) error { return newError(ErrStoreRead, op, err) }

// Kind returns the sentinel carried by err, or nil if err is not a pipeline error.
func Kind(err error) error {
	for _, k := range []error{ErrSourceRead, ErrFormat, ErrConnection, ErrWrite, ErrStoreRead} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
