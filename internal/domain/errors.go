package domain

import (
	"errors"
	"fmt"
)

// Rejections that leave a session untouched.
var (
	ErrBusy           = errors.New("a request is already in flight")
	ErrNotReady       = errors.New("no document has been processed yet")
	ErrEmptyInput     = errors.New("question is empty")
	ErrDocumentLoaded = errors.New("a document is already loaded")
)

// ValidationError is a user-facing input problem, reported as an alert.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// RequestError wraps a failed call to the document service: a transport
// failure or a non-2xx response.
type RequestError struct {
	Op         string // upload | ask | health
	StatusCode int    // 0 when no response was received
	Detail     string // backend-provided detail, if any
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": request failed"
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsRejection reports whether err is one of the no-op rejections.
func IsRejection(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrNotReady) ||
		errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrDocumentLoaded)
}
