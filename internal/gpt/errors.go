package gpt

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("provider timed out")
	ErrBadStatus   = errors.New("provider returned an error status")
	ErrBadResponse = errors.New("provider response is unusable")
	ErrTransport   = errors.New("provider is unreachable")
)

// Error is a classified completion failure. StatusCode is set only for
// ErrBadStatus.
type Error struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion failed: %v (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	if e.Err == nil {
		return "completion failed: " + e.Kind.Error()
	}
	return fmt.Sprintf("completion failed: %v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
