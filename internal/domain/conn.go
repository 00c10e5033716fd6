package domain

import "time"

// Conn is the transport handle for a single client connection. The gateway
// owns the underlying socket; the coordinator only sees this interface.
//
// Send must never block the caller: implementations queue the message on a
// bounded per-connection buffer and report false when the message was dropped
// because the buffer is full or the connection is closed.
type Conn interface {
	// ID returns a process-unique identifier for this connection.
	ID() string
	// Send queues an outbound message for delivery. Non-blocking.
	Send(msg any) bool
	// Close tears down the connection with a human-readable reason.
	// Safe to call more than once.
	Close(reason string)
}

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Reports whether the call prevented the
	// timer from firing.
	Stop() bool
}

// Clock abstracts wall-clock reads and timer scheduling so tests can drive
// time deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the real-time Clock used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// IDGenerator produces process-unique identifiers (connection ids,
// ledger row ids).
type IDGenerator func() string
