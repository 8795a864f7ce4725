package session

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is() to check for these through the typed
// errors below.
var (
	// ErrRejected is returned when the broker refuses a CONNECT or a
	// subscription (no granted QoS in the SUBACK).
	ErrRejected = errors.New("rejected by broker")

	// ErrNotConnected is returned when an operation needs a connection that
	// was never made or has been closed.
	ErrNotConnected = errors.New("session not connected")

	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrDisconnected fails operations still outstanding when Disconnect runs.
	ErrDisconnected = errors.New("session disconnected")

	// ErrAlreadyObserved is returned when a future is observed both by Wait
	// and by Then.
	ErrAlreadyObserved = errors.New("future already observed")
)

// ConnectError reports a failed CONNECT: TLS, network or a refused return code.
type ConnectError struct {
	ReturnCode byte
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SubscribeError reports a subscription the broker did not grant.
type SubscribeError struct {
	Topic string
	Err   error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe to %q failed: %v", e.Topic, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// PublishError reports a publish that was not acknowledged.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DisconnectError is returned by a Disconnect that could not run.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect failed: %v", e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// ResubscribeError is the fatal failure to restore a subscription after the
// broker lost the session.
type ResubscribeError struct {
	Topic string
	Err   error
}

func (e *ResubscribeError) Error() string {
	return fmt.Sprintf("resubscribe to %q failed: %v", e.Topic, e.Err)
}

func (e *ResubscribeError) Unwrap() error { return e.Err }
