// Package command runs long-lived camera operations (preview repeat,
// focus scans, still captures) on a cancellable worker pool.
package command

import (
	"context"
	"errors"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/ticketpool"
)

// Command is a camera operation. Run must return promptly once ctx is done.
type Command interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Command.
type Func func(ctx context.Context) error

// Run implements Command.
func (f Func) Run(ctx context.Context) error { return f(ctx) }

var (
	// ErrCameraAccess reports that the camera device is unavailable.
	ErrCameraAccess = errors.New("command: camera access unavailable")

	// ErrSessionClosed reports that the capture session was closed.
	ErrSessionClosed = errors.New("command: capture session closed")

	// ErrResourceAcquisitionFailed reports that a command could not obtain
	// the buffers or streams it needs.
	ErrResourceAcquisitionFailed = errors.New("command: resource acquisition failed")

	// ErrExecutorClosed is the result of commands submitted after Close.
	ErrExecutorClosed = errors.New("command: executor closed")

	// ErrPanic wraps a panic recovered from a command.
	ErrPanic = errors.New("command: panic")
)

// IsExpected reports whether err is an ordinary shutdown or contention
// outcome rather than a bug.
func IsExpected(err error) bool {
	for _, target := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		ErrCameraAccess,
		ErrSessionClosed,
		ErrResourceAcquisitionFailed,
		ticketpool.ErrNoCapacity,
		bufferqueue.ErrClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
