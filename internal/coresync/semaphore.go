// Package coresync provides the concurrency primitives the scheduler uses
// that golang.org/x/sync does not offer directly: a semaphore that can be
// closed exactly once to broadcast "stop" to every current and future
// waiter, and a single-fire shutdown signal for handing a connection
// driver a polite-close request.
package coresync

import "sync"

// Closable is a broadcast deadline signal: any number of goroutines can
// wait on it via C(), and a single call to Close() wakes all of them,
// immediately and permanently. This is the Go shape of a closable
// semaphore used as a deadline signal: unlike golang.org/x/sync/semaphore,
// which has no close operation, this type's only two operations are
// "wait" and "close forever".
type Closable struct {
	once sync.Once
	ch   chan struct{}
}

// NewClosable returns a Closable in the open state.
func NewClosable() *Closable {
	return &Closable{ch: make(chan struct{})}
}

// C returns a channel that is closed (hence immediately readable) once
// Close has been called. Select on it alongside other suspension points
// as the "deadline reached" case.
func (c *Closable) C() <-chan struct{} { return c.ch }

// Close wakes every current and future waiter. Safe to call more than
// once or concurrently; only the first call has effect.
func (c *Closable) Close() {
	c.once.Do(func() { close(c.ch) })
}

// IsClosed reports whether Close has already been called, without blocking.
func (c *Closable) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// ShutdownSignal is a one-shot "please shut down" notification from a
// connection-worker to its background driver task (used by the H3 engine
// to request a graceful QUIC shutdown before the driver is awaited).
type ShutdownSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewShutdownSignal returns an unsent signal.
func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{ch: make(chan struct{})}
}

// Send fires the signal. Safe to call more than once; only the first call
// has effect.
func (s *ShutdownSignal) Send() {
	s.once.Do(func() { close(s.ch) })
}

// C returns the channel the driver selects on to observe Send.
func (s *ShutdownSignal) C() <-chan struct{} { return s.ch }
