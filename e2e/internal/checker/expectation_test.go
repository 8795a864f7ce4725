package checker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/saaga0h/mqtt-samples/e2e/internal/observer"
	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
	"github.com/saaga0h/mqtt-samples/internal/audit"
	"github.com/saaga0h/mqtt-samples/internal/journal"
	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed hands observer handlers to the test
type feed struct {
	lifecycle session.LifecycleHandler
	message   session.MessageHandler
}

func (f *feed) OnLifecycle(h session.LifecycleHandler) { f.lifecycle = h }
func (f *feed) OnMessage(h session.MessageHandler)     { f.message = h }

func newObserved(t *testing.T) (*observer.Observer, *feed) {
	t.Helper()
	obs := observer.NewObserver(time.Now(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	f := &feed{}
	obs.Attach(f)
	return obs, f
}

type stubJournal struct {
	deliveries []journal.Delivery
	err        error
}

func (j stubJournal) Deliveries(context.Context, int64) ([]journal.Delivery, error) {
	return j.deliveries, j.err
}

type stubAudit struct {
	entries []audit.Entry
}

func (a stubAudit) Recent(context.Context, int) ([]audit.Entry, error) {
	return a.entries, nil
}

func TestCheckExpectation(t *testing.T) {
	obs, f := newObserved(t)
	ctx := context.Background()

	require.NoError(t, f.message(ctx, session.Message{Topic: "a/b", Payload: []byte(`{"seq":1}`)}))
	require.NoError(t, f.message(ctx, session.Message{Topic: "a/b", Payload: []byte(`{"seq":2}`)}))
	require.NoError(t, f.message(ctx, session.Message{Topic: "raw", Payload: []byte("not json")}))
	f.lifecycle(session.LifecycleEvent{Kind: session.EventResumed, At: time.Now()})
	f.lifecycle(session.LifecycleEvent{Kind: session.EventResubscribeFailed, At: time.Now(), Topic: "x"})

	snap := Snapshot{
		Observer:      obs,
		Coordinator:   "established",
		Subscriptions: 2,
		Fatal:         &session.ResubscribeError{Topic: "x", Err: session.ErrRejected},
		Journal: stubJournal{deliveries: []journal.Delivery{
			{Topic: "a/b"}, {Topic: "a/b"}, {Topic: "c"},
		}},
		Audit: stubAudit{entries: []audit.Entry{{Kind: "resumed"}, {Kind: "connected"}}},
	}

	tests := []struct {
		name string
		exp  scenario.Expectation
		want bool
	}{
		{"delivered", scenario.Expectation{Kind: scenario.ExpectDelivered, Topic: "a/b", Count: 2}, true},
		{"delivered too few", scenario.Expectation{Kind: scenario.ExpectDelivered, Topic: "a/b", Count: 3}, false},
		{"delivered latest payload", scenario.Expectation{Kind: scenario.ExpectDelivered, Topic: "a/b", Payload: map[string]interface{}{"seq": 2}}, true},
		{"delivered stale payload", scenario.Expectation{Kind: scenario.ExpectDelivered, Topic: "a/b", Payload: map[string]interface{}{"seq": 1}}, false},
		{"delivered text payload", scenario.Expectation{Kind: scenario.ExpectDelivered, Topic: "raw", Payload: "not json"}, true},
		{"nothing delivered", scenario.Expectation{Kind: scenario.ExpectDelivered, Topic: "other"}, false},
		{"event", scenario.Expectation{Kind: scenario.ExpectEvent, Event: "resumed"}, true},
		{"event with topic", scenario.Expectation{Kind: scenario.ExpectEvent, Event: "resubscribe_failed", Topic: "x"}, true},
		{"event wrong topic", scenario.Expectation{Kind: scenario.ExpectEvent, Event: "resubscribe_failed", Topic: "y"}, false},
		{"missing event", scenario.Expectation{Kind: scenario.ExpectEvent, Event: "interrupted"}, false},
		{"state", scenario.Expectation{Kind: scenario.ExpectState, State: "established"}, true},
		{"wrong state", scenario.Expectation{Kind: scenario.ExpectState, State: "failed"}, false},
		{"fatal", scenario.Expectation{Kind: scenario.ExpectFatal, Topic: "x"}, true},
		{"fatal other topic", scenario.Expectation{Kind: scenario.ExpectFatal, Topic: "y"}, false},
		{"subscriptions", scenario.Expectation{Kind: scenario.ExpectSubscriptions, Count: 2}, true},
		{"journal by topic", scenario.Expectation{Kind: scenario.ExpectJournal, Topic: "a/b", Count: 2}, true},
		{"journal total", scenario.Expectation{Kind: scenario.ExpectJournal, Count: 4}, false},
		{"audit", scenario.Expectation{Kind: scenario.ExpectAudit, Event: "resumed"}, true},
		{"audit missing", scenario.Expectation{Kind: scenario.ExpectAudit, Event: "disconnected"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason, _ := CheckExpectation(ctx, tt.exp, snap)
			assert.Equal(t, tt.want, got, reason)
		})
	}
}

func TestCheckWithoutBackends(t *testing.T) {
	obs, _ := newObserved(t)
	snap := Snapshot{Observer: obs}
	ctx := context.Background()

	ok, reason, _ := CheckExpectation(ctx, scenario.Expectation{Kind: scenario.ExpectJournal}, snap)
	assert.False(t, ok)
	assert.Contains(t, reason, "journal not enabled")

	ok, reason, _ = CheckExpectation(ctx, scenario.Expectation{Kind: scenario.ExpectAudit, Event: "resumed"}, snap)
	assert.False(t, ok)
	assert.Contains(t, reason, "audit not enabled")

	ok, reason, _ = CheckExpectation(ctx, scenario.Expectation{Kind: scenario.ExpectFatal, Topic: "x"}, snap)
	assert.False(t, ok)
	assert.Equal(t, "no fatal error reported", reason)

	snap.Journal = stubJournal{err: errors.New("connection refused")}
	ok, reason, _ = CheckExpectation(ctx, scenario.Expectation{Kind: scenario.ExpectJournal}, snap)
	assert.False(t, ok)
	assert.Contains(t, reason, "connection refused")
}
