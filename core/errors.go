package core

import "errors"

var (
	// ErrNoMatch is returned by CommandTable.Dispatch for frames that start
	// with no registered prefix.
	ErrNoMatch = errors.New("no matching command")

	// ErrTimeout is returned when an awaited driver event did not arrive in time.
	ErrTimeout = errors.New("timeout")

	// ErrAborted is returned when a wait was cancelled by Stop.
	ErrAborted = errors.New("aborted")

	// ErrTransport wraps a failure reported by the underlying driver, or a
	// completion event other than the one awaited.
	ErrTransport = errors.New("transport error")

	// ErrUnsupported is returned by drivers for settings they cannot apply.
	ErrUnsupported = errors.New("not supported")

	ErrRunning     = errors.New("server already running")
	ErrNotRunning  = errors.New("server not running")
	ErrStopTimeout = errors.New("server worker did not terminate")
)
