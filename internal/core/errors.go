package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a batch failed.
type ErrorKind string

const (
	KindMalformedInput   ErrorKind = "malformed_input"
	KindEmptyInput       ErrorKind = "empty_input"
	KindTemplateNotFound ErrorKind = "template_not_found"
	KindRender           ErrorKind = "render"
	KindArchiveWrite     ErrorKind = "archive_write"
	KindCancelled        ErrorKind = "cancelled"
	KindTemplateStore    ErrorKind = "template_store"
)

// Sentinels for errors.Is checks against a *BatchError.
var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrEmptyInput       = errors.New("empty input")
	ErrTemplateNotFound = errors.New("template not found")
	ErrRender           = errors.New("render failed")
	ErrArchiveWrite     = errors.New("archive write failed")
	ErrCancelled        = errors.New("batch cancelled")
	ErrTemplateStore    = errors.New("template store unavailable")
)

// ErrInvalidTemplateID is returned when a template id normalizes to nothing.
var ErrInvalidTemplateID = errors.New("invalid template id")

var kindSentinels = map[ErrorKind]error{
	KindMalformedInput:   ErrMalformedInput,
	KindEmptyInput:       ErrEmptyInput,
	KindTemplateNotFound: ErrTemplateNotFound,
	KindRender:           ErrRender,
	KindArchiveWrite:     ErrArchiveWrite,
	KindCancelled:        ErrCancelled,
	KindTemplateStore:    ErrTemplateStore,
}

// NoRow marks a BatchError that is not tied to a specific record.
const NoRow = -1

// BatchError is the structured failure returned by every pipeline stage.
type BatchError struct {
	Kind    ErrorKind
	Row     int // 0-based record index, NoRow when not applicable
	Message string
	Err     error // Underlying cause, may be nil
}

func (e *BatchError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Row != NoRow {
		return fmt.Sprintf("%s (row %d): %s", e.Kind, e.Row, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *BatchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// HasRow reports whether the error refers to a specific record.
func (e *BatchError) HasRow() bool {
	return e.Row != NoRow
}

func newBatchError(kind ErrorKind, row int, err error, format string, args ...any) *BatchError {
	return &BatchError{
		Kind:    kind,
		Row:     row,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// malformed builds a KindMalformedInput error.
func malformed(err error, format string, args ...any) *BatchError {
	return newBatchError(KindMalformedInput, NoRow, err, format, args...)
}

// AsBatchError extracts a *BatchError from err's chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
