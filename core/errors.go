package core

import (
	"errors"
	"fmt"
)

// Kind classifies preview failures for callers and HTTP status mapping.
type Kind string

const (
	KindElementNotFound Kind = "ELEMENT_NOT_FOUND"
	KindRasterization   Kind = "RASTERIZATION_FAILED"
	KindUpload          Kind = "UPLOAD_FAILED"
	KindValidation      Kind = "VALIDATION_FAILED"
	KindNotFound        Kind = "NOT_FOUND"
	KindDelete          Kind = "DELETE_FAILED"
)

var (
	// ErrObjectNotFound is reported by object stores when a key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrPreviewNotFound is reported by preview indexes for unknown previews.
	ErrPreviewNotFound = errors.New("preview not found")
)

// Error is a classified preview failure with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Backend string // storage backend for upload and delete failures
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Backend != "" {
		msg = fmt.Sprintf("%s (backend %s)", msg, e.Backend)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given kind around cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// UploadError reports a failed write to the named backend.
func UploadError(backend, key string, cause error) *Error {
	return &Error{
		Kind:    KindUpload,
		Message: fmt.Sprintf("failed to upload %s", key),
		Backend: backend,
		Cause:   cause,
	}
}

// IsKind reports whether any Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the outermost Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the message without kind prefix and cause, for responses shown to users.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
