package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

// Message is an inbound delivery. Payloads stay as bytes until a handler
// decides how to read them.
type Message = mqtt.Message

// MessageHandler handles one physical delivery. Duplicates (Message.Duplicate)
// are delivered like any other message.
type MessageHandler func(ctx context.Context, msg Message) error

// EventKind names a connection lifecycle event.
type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventInterrupted       EventKind = "interrupted"
	EventResumed           EventKind = "resumed"
	EventResubscribed      EventKind = "resubscribed"
	EventResubscribeFailed EventKind = "resubscribe_failed"
	EventDisconnected      EventKind = "disconnected"
)

// LifecycleEvent describes a change of the connection.
type LifecycleEvent struct {
	Kind           EventKind
	At             time.Time
	Err            error
	ReturnCode     byte
	SessionPresent bool
	// Topic is set for resubscribe failures
	Topic string
	// Count is the number of subscriptions restored by a resubscribe
	Count int
	// Results lists the granted QoS per restored topic, sorted by topic
	Results []ResubscribeResult
}

// ResubscribeResult is the broker's answer to one restored subscription.
type ResubscribeResult struct {
	Topic      string
	GrantedQoS byte
}

// LifecycleHandler handles a lifecycle event.
type LifecycleHandler func(ev LifecycleEvent)

// Dispatcher delivers lifecycle and message events off the network goroutines.
// Each family has its own FIFO lane and worker, so a slow message handler
// never delays reconnect handling and enqueueing never blocks.
type Dispatcher struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	lifecycle *lane
	messages  *lane

	mu                sync.RWMutex
	lifecycleHandlers []LifecycleHandler
	messageHandlers   []MessageHandler
}

// NewDispatcher starts the two lane workers
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		lifecycle: newLane("lifecycle", logger),
		messages:  newLane("messages", logger),
	}
	go d.lifecycle.run()
	go d.messages.run()
	return d
}

// OnLifecycle registers a handler for every lifecycle event
func (d *Dispatcher) OnLifecycle(h LifecycleHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lifecycleHandlers = append(d.lifecycleHandlers, h)
}

// OnMessage registers a handler for every delivered message, regardless of
// which subscription it matched.
func (d *Dispatcher) OnMessage(h MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageHandlers = append(d.messageHandlers, h)
}

// Lifecycle queues a lifecycle event. It reports false once the dispatcher is
// closed.
func (d *Dispatcher) Lifecycle(ev LifecycleEvent) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return d.lifecycle.push(func() {
		d.mu.RLock()
		handlers := append([]LifecycleHandler(nil), d.lifecycleHandlers...)
		d.mu.RUnlock()

		for _, h := range handlers {
			d.lifecycle.call(fmt.Sprintf("lifecycle %s", ev.Kind), func() { h(ev) })
		}
	})
}

// Message queues a delivery for the given subscription handlers followed by
// the handlers registered with OnMessage.
func (d *Dispatcher) Message(msg Message, subscribed []MessageHandler) bool {
	return d.messages.push(func() {
		d.mu.RLock()
		handlers := append(append([]MessageHandler(nil), subscribed...), d.messageHandlers...)
		d.mu.RUnlock()

		for _, h := range handlers {
			d.messages.call("message "+msg.Topic, func() {
				if err := h(d.ctx, msg); err != nil {
					d.logger.Error("Message handler failed",
						"topic", msg.Topic, "duplicate", msg.Duplicate, "error", err)
				}
			})
		}
	})
}

// Close drains both lanes and stops their workers. It must not be called from
// a handler.
func (d *Dispatcher) Close() {
	d.lifecycle.close()
	d.messages.close()
	d.cancel()
}

// lane is an unbounded FIFO of work drained by one goroutine.
type lane struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newLane(name string, logger *slog.Logger) *lane {
	return &lane{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (l *lane) push(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *lane) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-l.wake
		}
	}
}

// call runs fn, logging instead of propagating a panic.
func (l *lane) call(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Handler panicked", "lane", l.name, "handler", what, "panic", r)
		}
	}()
	fn()
}

func (l *lane) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}
