package mqtt

import "time"

// Client represents the broker link used by a session. Every operation is
// handed to the broker synchronously, in call order, and completes through the
// returned token.
type Client interface {
	// Connect makes a single connection attempt
	Connect() ConnectToken

	// Subscribe requests a subscription to a topic filter
	Subscribe(topic string, qos byte) SubscribeToken

	// Publish publishes a message to a topic
	Publish(topic string, qos byte, retained bool, payload []byte) PublishToken

	// Disconnect closes the connection, waiting up to quiesce for in-flight
	// flows to complete. Automatic reconnection stops.
	Disconnect(quiesce time.Duration)

	// IsConnected returns whether the client is currently connected
	IsConnected() bool

	// SetEventHandler registers the receiver of link events. It must be
	// called before Connect.
	SetEventHandler(h EventHandler)
}

// EventHandler receives link events. Implementations must not block: the
// calls are made from the client's network goroutines.
type EventHandler interface {
	// Interrupted is called when an established connection drops
	Interrupted(err error)

	// Resumed is called when the client has re-established a dropped connection
	Resumed(ack ConnAck)

	// Received is called for every inbound PUBLISH
	Received(msg Message)
}

// Token tracks an operation in flight.
type Token interface {
	// Done returns a channel that is closed when the operation completes
	Done() <-chan struct{}

	// Error returns the outcome once Done is closed
	Error() error
}

// ConnectToken completes with the broker's CONNACK.
type ConnectToken interface {
	Token
	ConnAck() ConnAck
}

// SubscribeToken completes with the broker's SUBACK.
type SubscribeToken interface {
	Token

	// Granted returns the QoS granted by the broker. ok is false when the
	// broker rejected the filter.
	Granted() (qos byte, ok bool)

	// PacketID returns the packet identifier, or 0 when the client does not
	// expose it.
	PacketID() uint16
}

// PublishToken completes when the publish flow for the message's QoS is done.
type PublishToken interface {
	Token
	PacketID() uint16
}

// ConnAck is the outcome of an accepted or rejected CONNECT.
type ConnAck struct {
	ReturnCode     byte
	SessionPresent bool
}

// Accepted reports whether the broker accepted the connection
func (a ConnAck) Accepted() bool {
	return a.ReturnCode == ReturnCodeAccepted
}

// Refused reports whether a broker answered with a non-accepted CONNACK.
// Transport failures, which never produced a CONNACK, are not refusals.
func (a ConnAck) Refused() bool {
	return a.ReturnCode > ReturnCodeAccepted && a.ReturnCode <= ReturnCodeNotAuthorized
}

// Message is an inbound PUBLISH with its payload normalized to bytes.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Duplicate bool
	Retained  bool
	PacketID  uint16
}

// CONNACK return codes (MQTT 3.1.1)
const (
	ReturnCodeAccepted              byte = 0x00
	ReturnCodeBadProtocolVersion    byte = 0x01
	ReturnCodeIdentifierRejected    byte = 0x02
	ReturnCodeServerUnavailable     byte = 0x03
	ReturnCodeBadUsernameOrPassword byte = 0x04
	ReturnCodeNotAuthorized         byte = 0x05
)

// QoS levels
const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2
)

// subackFailure is the SUBACK return code for a rejected filter
const subackFailure byte = 0x80
