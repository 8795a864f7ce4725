package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
	"github.com/stretchr/testify/assert"
)

// stubResubscriber answers resubscribes from a table of results.
type stubResubscriber struct {
	mu      sync.Mutex
	subs    []Subscription
	results map[string]error
	issued  []string
	fatal   []error
}

func (r *stubResubscriber) Subscriptions() []Subscription {
	return r.subs
}

func (r *stubResubscriber) resubscribe(sub Subscription) *Future[SubscribeResult] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued = append(r.issued, sub.Topic)
	return resolvedFuture(SubscribeResult{GrantedQoS: sub.QoS}, r.results[sub.Topic])
}

func (r *stubResubscriber) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatal = append(r.fatal, err)
}

func TestCoordinatorTransitions(t *testing.T) {
	stub := &stubResubscriber{subs: []Subscription{{Topic: "a", QoS: 1}, {Topic: "b", QoS: 0}}}
	emitted := make(chan LifecycleEvent, 4)
	c := newCoordinator(stub, func(ev LifecycleEvent) bool { emitted <- ev; return true }, testLogger())

	assert.Equal(t, AwaitingResume, c.State())

	c.HandleLifecycle(LifecycleEvent{Kind: EventConnected})
	assert.Equal(t, Established, c.State())

	c.HandleLifecycle(LifecycleEvent{Kind: EventInterrupted})
	assert.Equal(t, AwaitingResume, c.State())

	c.HandleLifecycle(LifecycleEvent{Kind: EventResumed, ReturnCode: mqtt.ReturnCodeNotAuthorized})
	assert.Equal(t, AwaitingResume, c.State())

	c.HandleLifecycle(LifecycleEvent{Kind: EventResumed})
	select {
	case ev := <-emitted:
		assert.Equal(t, EventResubscribed, ev.Kind)
		assert.Equal(t, 2, ev.Count)
		assert.Equal(t, []ResubscribeResult{{Topic: "a", GrantedQoS: 1}, {Topic: "b", GrantedQoS: 0}}, ev.Results)
	case <-time.After(time.Second):
		t.Fatal("resubscribe never finished")
	}
	assert.Equal(t, Established, c.State())
	assert.ElementsMatch(t, []string{"a", "b"}, stub.issued)
	assert.Empty(t, stub.fatal)
}

func TestCoordinatorFailureIsReportedOnce(t *testing.T) {
	stub := &stubResubscriber{
		subs: []Subscription{{Topic: "a"}, {Topic: "b"}},
		results: map[string]error{
			"a": fmt.Errorf("%w: a", ErrRejected),
			"b": fmt.Errorf("%w: b", ErrRejected),
		},
	}
	emitted := make(chan LifecycleEvent, 4)
	c := newCoordinator(stub, func(ev LifecycleEvent) bool { emitted <- ev; return true }, testLogger())

	c.HandleLifecycle(LifecycleEvent{Kind: EventConnected})
	c.HandleLifecycle(LifecycleEvent{Kind: EventResumed})

	ev := <-emitted
	assert.Equal(t, EventResubscribeFailed, ev.Kind)
	assert.Eventually(t, func() bool { return c.State() == Failed }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Len(t, stub.fatal, 1)
	assert.Empty(t, emitted)
}

func TestCoordinatorTransportErrorWaitsForResume(t *testing.T) {
	stub := &stubResubscriber{
		subs:    []Subscription{{Topic: "a", QoS: 1}},
		results: map[string]error{"a": errors.New("connection lost before Subscribe completed")},
	}
	emitted := make(chan LifecycleEvent, 4)
	c := newCoordinator(stub, func(ev LifecycleEvent) bool { emitted <- ev; return true }, testLogger())

	c.HandleLifecycle(LifecycleEvent{Kind: EventConnected})
	c.HandleLifecycle(LifecycleEvent{Kind: EventResumed})
	assert.Eventually(t, func() bool { return c.State() == AwaitingResume }, time.Second, 5*time.Millisecond)

	stub.mu.Lock()
	assert.Empty(t, stub.fatal)
	stub.results = nil
	stub.mu.Unlock()
	assert.Empty(t, emitted)

	// the next resume restores the subscription
	c.HandleLifecycle(LifecycleEvent{Kind: EventInterrupted})
	c.HandleLifecycle(LifecycleEvent{Kind: EventResumed})
	select {
	case ev := <-emitted:
		assert.Equal(t, EventResubscribed, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("resubscribe never finished")
	}
	assert.Equal(t, Established, c.State())
	assert.Equal(t, []string{"a", "a"}, stub.issued)
}

func TestCoordinatorHalted(t *testing.T) {
	stub := &stubResubscriber{subs: []Subscription{{Topic: "a"}}}
	c := newCoordinator(stub, func(LifecycleEvent) bool { return true }, testLogger())

	c.HandleLifecycle(LifecycleEvent{Kind: EventConnected})
	c.halt()
	c.HandleLifecycle(LifecycleEvent{Kind: EventInterrupted})
	c.HandleLifecycle(LifecycleEvent{Kind: EventResumed})

	assert.Equal(t, Established, c.State())
	assert.Empty(t, stub.issued)
}

func TestCoordinatorStateString(t *testing.T) {
	assert.Equal(t, "awaiting_resume", AwaitingResume.String())
	assert.Equal(t, "established", Established.String())
	assert.Equal(t, "resubscribing", Resubscribing.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "connected", Connected.String())
}
