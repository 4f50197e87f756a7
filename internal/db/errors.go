package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the store could not complete the operation.
	ErrUnavailable = errors.New("storage unavailable")
)

// Error carries the failed operation, its kind and the driver cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("db: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("db: %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func notFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound}
}

func unavailable(op string, err error) error {
	return &Error{Op: op, Kind: ErrUnavailable, Err: err}
}
