// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a receive or send did not complete
	// within its timeout. Transient.
	ErrTimeout = errors.New("transport: timeout")

	// ErrBusy is returned when the adapter's transmit buffer is full.
	// Transient.
	ErrBusy = errors.New("transport: bus busy")

	// ErrClosed is wrapped in a FatalError when the adapter has been
	// closed.
	ErrClosed = errors.New("transport: closed")
)

// FatalError reports an adapter failure the adapter cannot recover
// from: the device disappeared, access was revoked, or the adapter was
// closed. Workers stop when they see one.
type FatalError struct {
	// Op is the operation that failed ("receive", "send", "open").
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError for op.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsTimeout reports whether err is ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsTransient reports whether err is a non-nil error that is not
// fatal. Unclassified adapter errors count as transient.
func IsTransient(err error) bool { return err != nil && !IsFatal(err) }
