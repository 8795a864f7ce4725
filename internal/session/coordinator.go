package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

// CoordinatorState is the resubscription state of a session.
type CoordinatorState int

const (
	// AwaitingResume: the link is down, or not yet up. Nothing to do until
	// the transport reconnects.
	AwaitingResume CoordinatorState = iota
	// Established: the link is up and every subscription is in place.
	Established
	// Resubscribing: the broker lost the session and subscriptions are
	// being restored.
	Resubscribing
	// Failed: a subscription could not be restored. Terminal.
	Failed
)

func (s CoordinatorState) String() string {
	switch s {
	case AwaitingResume:
		return "awaiting_resume"
	case Established:
		return "established"
	case Resubscribing:
		return "resubscribing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// resubscriber is the part of the session the coordinator drives.
type resubscriber interface {
	Subscriptions() []Subscription
	resubscribe(sub Subscription) *Future[SubscribeResult]
	fail(err error)
}

// Coordinator restores subscriptions when a resumed connection reports that
// the broker did not keep the session. It runs on the dispatcher's lifecycle
// lane; resubscribe results arrive on continuations, so the lane is never
// blocked waiting on the broker.
type Coordinator struct {
	session resubscriber
	emit    func(LifecycleEvent) bool
	logger  *slog.Logger

	mu         sync.Mutex
	state      CoordinatorState
	generation uint64
	halted     bool
}

func newCoordinator(session resubscriber, emit func(LifecycleEvent) bool, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		session: session,
		emit:    emit,
		logger:  logger,
		state:   AwaitingResume,
	}
}

// State returns the current coordinator state
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleLifecycle advances the state machine. Events the coordinator raises
// itself are ignored.
func (c *Coordinator) HandleLifecycle(ev LifecycleEvent) {
	switch ev.Kind {
	case EventConnected:
		c.transition(Established)
	case EventInterrupted:
		c.interrupted()
	case EventResumed:
		c.resumed(ev)
	}
}

func (c *Coordinator) transition(to CoordinatorState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted || c.state == Failed {
		return
	}
	c.state = to
}

func (c *Coordinator) interrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted || c.state == Failed {
		return
	}
	// results of an in-flight resubscribe belong to the lost link
	c.generation++
	c.state = AwaitingResume
}

func (c *Coordinator) resumed(ev LifecycleEvent) {
	if ev.ReturnCode != mqtt.ReturnCodeAccepted {
		c.logger.Warn("Resume refused by broker, still waiting", "return_code", ev.ReturnCode)
		return
	}

	c.mu.Lock()
	if c.halted || c.state == Failed {
		c.mu.Unlock()
		return
	}
	if ev.SessionPresent {
		c.state = Established
		c.mu.Unlock()
		c.logger.Info("Session resumed by broker, subscriptions intact")
		return
	}
	c.generation++
	gen := c.generation
	c.state = Resubscribing
	c.mu.Unlock()

	c.resubscribeAll(gen)
}

func (c *Coordinator) resubscribeAll(gen uint64) {
	subs := c.session.Subscriptions()
	c.logger.Info("Session lost by broker, resubscribing", "subscriptions", len(subs))

	if len(subs) == 0 {
		c.finish(gen, nil)
		return
	}

	var (
		mu      sync.Mutex
		results = make([]ResubscribeResult, 0, len(subs))
		done    bool
	)
	for _, sub := range subs {
		sub := sub
		fut := c.session.resubscribe(sub)
		_ = fut.Then(func(res SubscribeResult, err error) {
			mu.Lock()
			defer mu.Unlock()
			if done {
				return
			}
			switch {
			case errors.Is(err, ErrRejected):
				done = true
				c.failed(gen, sub.Topic, err)
			case err != nil:
				// The link dropped under the SUBSCRIBE, possibly before the
				// interruption is reported. Not a rejection.
				done = true
				c.abandon(gen, sub.Topic, err)
			default:
				c.logger.Info("Resubscribed", "topic", sub.Topic, "qos", res.GrantedQoS)
				results = append(results, ResubscribeResult{Topic: sub.Topic, GrantedQoS: res.GrantedQoS})
				if len(results) == len(subs) {
					done = true
					c.finish(gen, results)
				}
			}
		})
	}
}

// current reports whether gen is still the live generation, under c.mu
func (c *Coordinator) current(gen uint64) bool {
	return !c.halted && c.state == Resubscribing && c.generation == gen
}

func (c *Coordinator) finish(gen uint64, results []ResubscribeResult) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.state = Established
	c.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Topic < results[j].Topic })
	c.emit(LifecycleEvent{Kind: EventResubscribed, Count: len(results), Results: results})
}

// abandon gives up on generation gen after a transport failure and waits for
// the next resume.
func (c *Coordinator) abandon(gen uint64, topic string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(gen) {
		return
	}
	c.logger.Warn("Resubscribe interrupted, waiting for the connection to resume", "topic", topic, "error", cause)
	c.generation++
	c.state = AwaitingResume
}

func (c *Coordinator) failed(gen uint64, topic string, cause error) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		c.logger.Debug("Ignoring resubscribe result from an earlier connection", "topic", topic)
		return
	}
	c.state = Failed
	c.mu.Unlock()

	err := &ResubscribeError{Topic: topic, Err: cause}
	c.logger.Error("Resubscribe failed", "topic", topic, "error", cause)
	c.emit(LifecycleEvent{Kind: EventResubscribeFailed, Topic: topic, Err: err})
	c.session.fail(err)
}

// halt stops the coordinator for good; pending results are ignored.
func (c *Coordinator) halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted = true
	c.generation++
}
