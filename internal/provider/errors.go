package provider

import (
	"errors"
	"fmt"
)

// ErrCallFailed matches any error returned by a backend call.
var ErrCallFailed = errors.New("provider call failed")

// CallError records which backend operation failed.
type CallError struct {
	Backend string
	Op      string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is reports true for ErrCallFailed.
func (e *CallError) Is(target error) bool { return target == ErrCallFailed }

// Wrap returns err as a *CallError, or nil if err is nil.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Backend: backend, Op: op, Err: err}
}
