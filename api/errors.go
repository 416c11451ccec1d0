// Package api
// Author: momentics <momentics@gmail.com>
//
// Error types shared between the reactor core and its host.

package api

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SystemInitError reports a fatal construction failure of a reactor group
// (epoll instance or notifier descriptor could not be created).
type SystemInitError struct {
	Op    string
	Errno unix.Errno
}

func (e *SystemInitError) Error() string {
	return fmt.Sprintf("reactor init %s: %s", e.Op, e.Errno.Error())
}

func (e *SystemInitError) Unwrap() error { return e.Errno }

// ErrnoError is a registration-level failure carrying the raw errno, the
// Go rendition of the negated-errno returns used across the descriptor
// surface. The caller owns recovery: closing the fd, freeing the callback.
type ErrnoError struct {
	Op    string
	Errno unix.Errno
}

func (e *ErrnoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Errno.Error())
}

func (e *ErrnoError) Unwrap() error { return e.Errno }

// NewErrnoError wraps an errno with the failing operation name.
func NewErrnoError(op string, errno unix.Errno) *ErrnoError {
	return &ErrnoError{Op: op, Errno: errno}
}
