package mqtt

import "errors"

// Transport errors. Use errors.Is() to check for these in calling code.
var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionRefused is returned when the broker answers CONNECT with a
	// non-zero return code.
	ErrConnectionRefused = errors.New("mqtt: connection refused")

	// ErrSubscriptionRejected is returned when the SUBACK carries a failure code.
	ErrSubscriptionRejected = errors.New("mqtt: subscription rejected")

	// ErrInvalidQoS is returned when a QoS other than 0, 1 or 2 is requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty or malformed topics and filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidCertificate is returned when the certificate, key or CA bundle
	// cannot be loaded.
	ErrInvalidCertificate = errors.New("mqtt: invalid certificate")

	// ErrProxy is returned when the proxy refuses or breaks the tunnel.
	ErrProxy = errors.New("mqtt: proxy connection failed")
)

// errStopped ends a reconnect loop that Disconnect raced with
var errStopped = errors.New("mqtt: client disconnected")
