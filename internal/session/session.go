// Package session keeps a logical MQTT connection and its subscriptions alive
// across transport interruptions.
//
// A Session hands every operation to the broker link synchronously, in call
// order, and returns a Future for its outcome. Link events are delivered
// through a Dispatcher; a Coordinator listens to them and restores the
// subscription set whenever a resumed connection reports that the broker did
// not keep the session.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Interrupted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Subscription is a topic filter the session keeps subscribed. It stays
// active across reconnects until it is unsubscribed or rejected.
type Subscription struct {
	Topic   string
	QoS     byte
	Handler MessageHandler
}

// SubscribeResult is the broker's answer to a subscription.
type SubscribeResult struct {
	GrantedQoS byte
	PacketID   uint16
}

// PublishResult identifies an acknowledged publish. PacketID is 0 for QoS 0.
type PublishResult struct {
	PacketID uint16
}

// Session owns one broker connection and its subscription set.
type Session struct {
	client      mqtt.Client
	logger      *slog.Logger
	quiesce     time.Duration
	dispatcher  *Dispatcher
	coordinator *Coordinator

	mu            sync.Mutex
	state         State
	closed        bool
	subscriptions map[string]*Subscription
	pending       map[uint64]func(error)
	nextID        uint64

	fatal     chan error
	fatalOnce sync.Once
}

// New creates a session on top of client and takes over its event handler.
// quiesce bounds how long Disconnect waits for in-flight flows.
func New(client mqtt.Client, quiesce time.Duration, logger *slog.Logger) *Session {
	s := &Session{
		client:        client,
		logger:        logger,
		quiesce:       quiesce,
		dispatcher:    NewDispatcher(logger),
		subscriptions: make(map[string]*Subscription),
		pending:       make(map[uint64]func(error)),
		fatal:         make(chan error, 1),
	}
	s.coordinator = newCoordinator(s, s.dispatcher.Lifecycle, logger)
	s.dispatcher.OnLifecycle(s.coordinator.HandleLifecycle)

	client.SetEventHandler(linkEvents{s})
	return s
}

// OnLifecycle registers a listener for connection lifecycle events. Listeners
// run after the resubscription coordinator.
func (s *Session) OnLifecycle(h LifecycleHandler) {
	s.dispatcher.OnLifecycle(h)
}

// OnMessage registers a listener that sees every delivered message
func (s *Session) OnMessage(h MessageHandler) {
	s.dispatcher.OnMessage(h)
}

// State returns the connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CoordinatorState returns the resubscription state
func (s *Session) CoordinatorState() CoordinatorState {
	return s.coordinator.State()
}

// Fatal delivers the first unrecoverable error, a *ResubscribeError. The
// caller is expected to shut down when it fires.
func (s *Session) Fatal() <-chan error {
	return s.fatal
}

// Subscriptions returns a snapshot of the active subscriptions, ordered by topic.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, *sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Topic < subs[j].Topic })
	return subs
}

// Connect opens the connection. The future resolves with the CONNACK, or
// fails with a *ConnectError.
func (s *Session) Connect() *Future[mqtt.ConnAck] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return resolvedFuture(mqtt.ConnAck{}, &ConnectError{Err: ErrDisconnected})
	}
	if s.state != Disconnected {
		return resolvedFuture(mqtt.ConnAck{}, &ConnectError{Err: ErrAlreadyConnected})
	}

	s.state = Connecting
	token := s.client.Connect()

	return track(s, token, func() (mqtt.ConnAck, error) {
		ack := token.ConnAck()
		err := token.Error()
		if ack.Refused() {
			err = fmt.Errorf("%w: return code %d: %w", ErrRejected, ack.ReturnCode, mqtt.ErrConnectionRefused)
		}
		if err != nil {
			s.compareAndSetState(Connecting, Disconnected)
			return ack, &ConnectError{ReturnCode: ack.ReturnCode, Err: err}
		}

		s.compareAndSetState(Connecting, Connected)
		s.logger.Info("Connected", "session_present", ack.SessionPresent)
		s.dispatcher.Lifecycle(LifecycleEvent{
			Kind:           EventConnected,
			ReturnCode:     ack.ReturnCode,
			SessionPresent: ack.SessionPresent,
		})
		return ack, nil
	})
}

// Subscribe adds topic to the active subscriptions and subscribes to it.
// handler, which may be nil, receives the messages matching topic. The future
// fails with a *SubscribeError when the broker grants no QoS; the subscription
// is then dropped.
func (s *Session) Subscribe(topic string, qos byte, handler MessageHandler) *Future[SubscribeResult] {
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return resolvedFuture(SubscribeResult{}, &SubscribeError{Topic: topic, Err: err})
	}
	if qos > mqtt.ExactlyOnce {
		return resolvedFuture(SubscribeResult{}, &SubscribeError{Topic: topic, Err: mqtt.ErrInvalidQoS})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return resolvedFuture(SubscribeResult{}, &SubscribeError{Topic: topic, Err: ErrNotConnected})
	}

	// Recorded before the SUBSCRIBE is sent so that a resume racing with it
	// restores it too.
	sub := &Subscription{Topic: topic, QoS: qos, Handler: handler}
	s.subscriptions[topic] = sub

	token := s.client.Subscribe(topic, qos)
	return track(s, token, func() (SubscribeResult, error) {
		res, err := subscribeResult(token)
		if err != nil {
			s.dropSubscription(sub)
			return res, &SubscribeError{Topic: topic, Err: err}
		}
		return res, nil
	})
}

// resubscribe repeats the SUBSCRIBE for an existing subscription.
func (s *Session) resubscribe(sub Subscription) *Future[SubscribeResult] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return resolvedFuture(SubscribeResult{}, ErrDisconnected)
	}

	token := s.client.Subscribe(sub.Topic, sub.QoS)
	return track(s, token, func() (SubscribeResult, error) {
		return subscribeResult(token)
	})
}

func subscribeResult(token mqtt.SubscribeToken) (SubscribeResult, error) {
	if err := token.Error(); err != nil {
		return SubscribeResult{}, err
	}
	granted, ok := token.Granted()
	if !ok {
		return SubscribeResult{}, fmt.Errorf("%w: %w", ErrRejected, mqtt.ErrSubscriptionRejected)
	}
	return SubscribeResult{GrantedQoS: granted, PacketID: token.PacketID()}, nil
}

// Unsubscribe removes topic from the active subscriptions. The broker keeps
// delivering until the session is reset; those messages no longer reach the
// subscription's handler.
func (s *Session) Unsubscribe(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[topic]; !ok {
		return false
	}
	delete(s.subscriptions, topic)
	return true
}

func (s *Session) dropSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions[sub.Topic] == sub {
		delete(s.subscriptions, sub.Topic)
	}
}

// Publish sends payload to topic. For QoS 1 and 2 the future resolves once the
// broker acknowledged the message, for QoS 0 once it was written.
func (s *Session) Publish(topic string, payload []byte, qos byte) *Future[PublishResult] {
	if err := mqtt.ValidateTopicName(topic); err != nil {
		return resolvedFuture(PublishResult{}, &PublishError{Topic: topic, Err: err})
	}
	if qos > mqtt.ExactlyOnce {
		return resolvedFuture(PublishResult{}, &PublishError{Topic: topic, Err: mqtt.ErrInvalidQoS})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return resolvedFuture(PublishResult{}, &PublishError{Topic: topic, Err: ErrNotConnected})
	}

	token := s.client.Publish(topic, qos, false, payload)
	return track(s, token, func() (PublishResult, error) {
		if err := token.Error(); err != nil {
			return PublishResult{}, &PublishError{Topic: topic, Err: err}
		}
		return PublishResult{PacketID: token.PacketID()}, nil
	})
}

// Disconnect closes the connection after letting in-flight flows finish,
// then fails every operation still outstanding with ErrDisconnected. A
// session cannot be reconnected afterwards.
func (s *Session) Disconnect() *Future[struct{}] {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return resolvedFuture(struct{}{}, &DisconnectError{Err: ErrNotConnected})
	}
	s.state = Disconnected
	s.closed = true
	s.mu.Unlock()

	s.coordinator.halt()

	f := newFuture[struct{}]()
	go func() {
		s.client.Disconnect(s.quiesce)

		s.mu.Lock()
		pending := s.pending
		s.pending = make(map[uint64]func(error))
		s.mu.Unlock()

		for _, fail := range pending {
			fail(ErrDisconnected)
		}
		if len(pending) > 0 {
			s.logger.Warn("Operations still outstanding at disconnect", "count", len(pending))
		}

		s.dispatcher.Lifecycle(LifecycleEvent{Kind: EventDisconnected})
		s.dispatcher.Close()
		f.resolve(struct{}{}, nil)
	}()
	return f
}

// track returns a future resolved by result once token completes. It must be
// called with s.mu held, right after the operation was handed to the link.
func track[T any](s *Session, token mqtt.Token, result func() (T, error)) *Future[T] {
	f := newFuture[T]()

	s.nextID++
	id := s.nextID
	s.pending[id] = func(err error) { f.fail(err) }

	go func() {
		select {
		case <-token.Done():
			value, err := result()
			f.resolve(value, err)
		case <-f.Done():
		}

		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()
	return f
}

func (s *Session) compareAndSetState(from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.state = to
	}
}

// fail publishes an unrecoverable error on the fatal channel once.
func (s *Session) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatal <- err
	})
}

// handlersFor returns the handlers of the subscriptions matching topic.
func (s *Session) handlersFor(topic string) []MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()

	var handlers []MessageHandler
	for _, sub := range s.subscriptions {
		if sub.Handler != nil && mqtt.TopicMatches(sub.Topic, topic) {
			handlers = append(handlers, sub.Handler)
		}
	}
	return handlers
}

// linkEvents adapts the transport's callbacks. They run on the transport's
// goroutines, so each one only updates state and queues work.
type linkEvents struct {
	s *Session
}

func (l linkEvents) Interrupted(err error) {
	l.s.compareAndSetState(Connected, Interrupted)
	l.s.logger.Warn("Connection interrupted", "error", err)
	l.s.dispatcher.Lifecycle(LifecycleEvent{Kind: EventInterrupted, Err: err})
}

func (l linkEvents) Resumed(ack mqtt.ConnAck) {
	if ack.Accepted() {
		l.s.compareAndSetState(Interrupted, Connected)
	}
	l.s.logger.Info("Connection resumed",
		"return_code", ack.ReturnCode, "session_present", ack.SessionPresent)
	l.s.dispatcher.Lifecycle(LifecycleEvent{
		Kind:           EventResumed,
		ReturnCode:     ack.ReturnCode,
		SessionPresent: ack.SessionPresent,
	})
}

func (l linkEvents) Received(msg mqtt.Message) {
	l.s.dispatcher.Message(msg, l.s.handlersFor(msg.Topic))
}
