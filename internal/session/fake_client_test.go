package session

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeToken struct {
	done    chan struct{}
	err     error
	ack     mqtt.ConnAck
	granted byte
	ok      bool
	id      uint16
}

func newFakeToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }
func (t *fakeToken) ConnAck() mqtt.ConnAck { return t.ack }
func (t *fakeToken) Granted() (byte, bool) { return t.granted, t.ok }
func (t *fakeToken) PacketID() uint16      { return t.id }
func (t *fakeToken) complete()             { close(t.done) }

type subscribeCall struct {
	Topic string
	QoS   byte
}

type publishCall struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// fakeClient is an in-memory broker link. Tokens complete immediately unless
// hold is set, in which case they wait for release.
type fakeClient struct {
	mu          sync.Mutex
	handler     mqtt.EventHandler
	connAck     mqtt.ConnAck
	connErr     error
	rejected    map[string]bool
	downgrade   map[string]byte
	hold        bool
	held        []*fakeToken
	subscribes  []subscribeCall
	publishes   []publishCall
	disconnects int
	nextID      uint16
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		rejected:  make(map[string]bool),
		downgrade: make(map[string]byte),
	}
}

func (f *fakeClient) SetEventHandler(h mqtt.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeClient) events() mqtt.EventHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeClient) finish(t *fakeToken) {
	if f.hold {
		f.held = append(f.held, t)
		return
	}
	t.complete()
}

func (f *fakeClient) Connect() mqtt.ConnectToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newFakeToken()
	t.ack = f.connAck
	t.err = f.connErr
	f.finish(t)
	return t
}

func (f *fakeClient) Subscribe(topic string, qos byte) mqtt.SubscribeToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, subscribeCall{Topic: topic, QoS: qos})
	f.nextID++

	t := newFakeToken()
	t.id = f.nextID
	if !f.rejected[topic] {
		t.ok = true
		t.granted = qos
		if g, ok := f.downgrade[topic]; ok {
			t.granted = g
		}
	} else {
		t.granted = 0x80
	}
	f.finish(t)
	return t
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload []byte) mqtt.PublishToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, publishCall{Topic: topic, QoS: qos, Payload: payload})

	t := newFakeToken()
	if qos > 0 {
		f.nextID++
		t.id = f.nextID
	}
	f.finish(t)
	return t
}

func (f *fakeClient) Disconnect(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) setHold(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

func (f *fakeClient) reject(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[topic] = true
}

// release completes every held token
func (f *fakeClient) release() {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.mu.Unlock()
	for _, t := range held {
		t.complete()
	}
}

// failHeld completes every held token with err, the way a link failure
// fails in-flight operations
func (f *fakeClient) failHeld(err error) {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.mu.Unlock()
	for _, t := range held {
		t.err = err
		t.ok = false
		t.complete()
	}
}

func (f *fakeClient) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

func (f *fakeClient) subscribeCalls() []subscribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscribeCall(nil), f.subscribes...)
}

func (f *fakeClient) publishCalls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.publishes...)
}

func (f *fakeClient) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}
