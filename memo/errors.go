package memo

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("memo: cache closed")

	// ErrCancelled may be returned (or wrapped) by a Computable to abandon a
	// computation. The entry is discarded and waiting callers retry with a
	// fresh computation instead of receiving an error, so a Computable must
	// not return it unconditionally.
	ErrCancelled = errors.New("memo: computation cancelled")
)

// ComputeError is returned to every caller that shared a failed computation.
type ComputeError struct {
	Key any
	Err error
}

func (e *ComputeError) Error() string { return fmt.Sprintf("memo: compute %v: %v", e.Key, e.Err) }

func (e *ComputeError) Unwrap() error { return e.Err }

// PanicError is the cause carried by a ComputeError when the Computable
// panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("computation panicked: %v", e.Value) }
