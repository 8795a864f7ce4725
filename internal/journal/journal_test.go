package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRedis keeps lists in memory
type memoryRedis struct {
	mu    sync.Mutex
	lists map[string][]string
	ttls  map[string]time.Duration
	err   error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{lists: make(map[string][]string), ttls: make(map[string]time.Duration)}
}

func (m *memoryRedis) PushCapped(_ context.Context, key string, value interface{}, maxLen int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	var s string
	switch val := value.(type) {
	case []byte:
		s = string(val)
	case string:
		s = val
	}
	list := append([]string{s}, m.lists[key]...)
	if maxLen > 0 && int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	m.lists[key] = list
	m.ttls[key] = ttl
	return nil
}

func (m *memoryRedis) length(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[key])
}

func (m *memoryRedis) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if stop < 0 || stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (m *memoryRedis) Ping(context.Context) error { return nil }
func (m *memoryRedis) Close() error               { return nil }

func newTestJournal(r *memoryRedis, maxEntries int) *Journal {
	cfg := config.NewConfig()
	cfg.ClientID = "test-client"
	cfg.JournalMaxEntries = maxEntries
	cfg.JournalTTL = time.Hour
	j := New(r, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return j
}

func TestRecordDelivery(t *testing.T) {
	r := newMemoryRedis()
	j := newTestJournal(r, 10)
	ctx := context.Background()

	require.NoError(t, j.RecordDelivery(ctx, session.Message{
		Topic: "test/topic", Payload: []byte(`"Test Message"`), QoS: 1, Duplicate: true, PacketID: 9,
	}))
	require.NoError(t, j.RecordDelivery(ctx, session.Message{
		Topic: "test/topic", Payload: []byte{0xff, 0x00},
	}))

	entries, err := j.Deliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	assert.Equal(t, EncodingBase64, entries[0].Encoding)
	raw, err := entries[0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00}, raw)

	assert.Equal(t, EncodingText, entries[1].Encoding)
	assert.Equal(t, `"Test Message"`, entries[1].Payload)
	assert.True(t, entries[1].Duplicate)
	assert.Equal(t, uint16(9), entries[1].PacketID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), entries[1].ReceivedAt)

	assert.Equal(t, time.Hour, r.ttls["mqtt:deliveries:test-client"])
}

func TestJournalIsCapped(t *testing.T) {
	r := newMemoryRedis()
	j := newTestJournal(r, 3)
	ctx := context.Background()

	for _, p := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, j.RecordDelivery(ctx, session.Message{Topic: "t", Payload: []byte(p)}))
	}

	entries, err := j.Deliveries(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "5", entries[0].Payload)
	assert.Equal(t, "3", entries[2].Payload)
}

func TestRecordEvent(t *testing.T) {
	r := newMemoryRedis()
	j := newTestJournal(r, 10)
	ctx := context.Background()

	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, j.RecordEvent(ctx, session.LifecycleEvent{
		Kind: session.EventResubscribeFailed, At: at, Topic: "revoked", Err: errors.New("rejected by broker"),
	}))
	require.NoError(t, j.RecordEvent(ctx, session.LifecycleEvent{Kind: session.EventResumed, SessionPresent: true}))

	events, err := j.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "resumed", events[0].Kind)
	assert.True(t, events[0].SessionPresent)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), events[0].At)

	assert.Equal(t, "resubscribe_failed", events[1].Kind)
	assert.Equal(t, "revoked", events[1].Topic)
	assert.Equal(t, "rejected by broker", events[1].Error)
	assert.Equal(t, at, events[1].At)
}

// fakeSource captures the handlers Attach registers
type fakeSource struct {
	lifecycle session.LifecycleHandler
	message   session.MessageHandler
}

func (f *fakeSource) OnLifecycle(h session.LifecycleHandler) { f.lifecycle = h }
func (f *fakeSource) OnMessage(h session.MessageHandler)     { f.message = h }

func TestAttachSwallowsFailures(t *testing.T) {
	r := newMemoryRedis()
	r.err = errors.New("connection refused")
	j := newTestJournal(r, 10)

	src := &fakeSource{}
	j.Attach(src)
	require.NotNil(t, src.message)
	require.NotNil(t, src.lifecycle)

	assert.NoError(t, src.message(context.Background(), session.Message{Topic: "t"}))
	src.lifecycle(session.LifecycleEvent{Kind: session.EventInterrupted})
}

func TestAttachRecords(t *testing.T) {
	r := newMemoryRedis()
	j := newTestJournal(r, 10)

	src := &fakeSource{}
	j.Attach(src)

	require.NoError(t, src.message(context.Background(), session.Message{Topic: "t", Payload: []byte("x")}))
	src.lifecycle(session.LifecycleEvent{Kind: session.EventConnected})

	assert.Equal(t, 1, r.length("mqtt:deliveries:test-client"))
	assert.Equal(t, 1, r.length("mqtt:lifecycle:test-client"))
}

func TestReadListZeroLimit(t *testing.T) {
	j := newTestJournal(newMemoryRedis(), 10)
	entries, err := j.Deliveries(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
