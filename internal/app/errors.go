package app

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrIngest       = errors.New("ingest failed")
	ErrIndex        = errors.New("index build failed")
	ErrRetrieval    = errors.New("retrieval failed")
	ErrGeneration   = errors.New("generation failed")
	ErrEvaluation   = errors.New("evaluation failed")
	ErrTimeout      = errors.New("operation timed out")
)

// Error is the typed failure returned by service operations. Kind is one of the
// sentinel errors above, Message is safe to show to clients.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// newError builds an *Error of the given kind. A deadline anywhere in err turns it
// into ErrTimeout.
func newError(kind error, message string, err error) *Error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// PublicMessage returns the client-facing text for err.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
