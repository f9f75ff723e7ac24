// Package session implements the two symmetric transform session state
// machines that wrap a platform hardware transform service: a Decoder that
// consumes compressed samples and produces raw pictures, and an Encoder
// that consumes raw pictures and produces compressed samples.
//
// Both sessions share one lifecycle: Uninitialized, Initialized, Started,
// Stopped, Released, with draining as a transient phase while the hardware
// queue is flushed. Every public operation acquires the session's mutex for
// its full duration, so one producer goroutine and one consumer goroutine
// can operate on the same session concurrently; backpressure is always a
// return value, never a blocking wait.
package session

import "errors"

var (
	// ErrNotInitialized is returned when an operation requires a prior
	// successful Initialize.
	ErrNotInitialized = errors.New("session: not initialized")
	// ErrAlreadyInitialized is returned by Initialize on a session that
	// already holds a transform; the call has no side effects.
	ErrAlreadyInitialized = errors.New("session: already initialized")
	// ErrNotStarted is returned when push is called outside Started.
	ErrNotStarted = errors.New("session: not started")
)

// tick is the number of 100 ns transform-clock units per microsecond.
// Presentation times are exposed in microseconds and converted at the
// transform boundary, consistently in both directions.
const tick = 10
