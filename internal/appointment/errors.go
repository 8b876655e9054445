package appointment

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("appointment not found")

// FetchError means the remote read failed. The store keeps serving its last
// cached snapshot alongside this error, flagged as stale.
type FetchError struct {
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch appointments: %v", e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// PersistenceError means a remote write failed. The mutation did not happen.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
