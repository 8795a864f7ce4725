package executor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

// errDropped is the reason given to clients the broker disconnects
var errDropped = errors.New("dropped by scenario")

// Broker is an embedded MQTT broker the scenario can disrupt. Restarting it
// loses every session; revoked topics stay revoked across restarts.
type Broker struct {
	addr   string
	logger *slog.Logger
	acl    *aclHook

	mu     sync.Mutex
	server *mochi.Server
	starts int
}

// NewBroker creates a broker listening on addr once started
func NewBroker(addr string, logger *slog.Logger) *Broker {
	return &Broker{
		addr:   addr,
		logger: logger,
		acl:    &aclHook{revoked: make(map[string]bool)},
	}
}

// Start brings the broker up
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked()
}

func (b *Broker) startLocked() error {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       b.logger.With("component", "broker"),
	})

	if err := server.AddHook(b.acl, nil); err != nil {
		return fmt.Errorf("failed to add acl hook: %w", err)
	}

	b.starts++
	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      fmt.Sprintf("scenario-%d", b.starts),
		Address: b.addr,
	})
	if err := server.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.addr, err)
	}

	if err := server.Serve(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	b.server = server
	b.logger.Debug("Broker started", "addr", b.addr, "generation", b.starts)
	return nil
}

// Restart stops the broker and starts a fresh one on the same address
func (b *Broker) Restart() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server != nil {
		if err := b.server.Close(); err != nil {
			b.logger.Warn("Error closing broker", "error", err)
		}
		b.server = nil
	}
	return b.startLocked()
}

// Drop closes the connection of clientID. The broker keeps its session.
func (b *Broker) Drop(clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server == nil {
		return fmt.Errorf("broker not running")
	}
	cl, ok := b.server.Clients.Get(clientID)
	if !ok {
		return fmt.Errorf("client %q not connected", clientID)
	}
	cl.Stop(errDropped)
	return nil
}

// Publish sends a message from the broker's inline client
func (b *Broker) Publish(topic string, payload []byte, qos byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server == nil {
		return fmt.Errorf("broker not running")
	}
	return b.server.Publish(topic, payload, false, qos)
}

// Revoke makes the broker refuse subscriptions matching filter from now on
func (b *Broker) Revoke(filter string) {
	b.acl.revoke(filter)
}

// Close stops the broker
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server == nil {
		return nil
	}
	err := b.server.Close()
	b.server = nil
	return err
}

// aclHook admits every client and refuses reads of revoked topics
type aclHook struct {
	mochi.HookBase

	mu      sync.RWMutex
	revoked map[string]bool
}

func (h *aclHook) ID() string {
	return "scenario-acl"
}

func (h *aclHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnectAuthenticate,
		mochi.OnACLCheck,
	}, []byte{b})
}

func (h *aclHook) OnConnectAuthenticate(cl *mochi.Client, pk packets.Packet) bool {
	return true
}

func (h *aclHook) OnACLCheck(cl *mochi.Client, topic string, write bool) bool {
	if write {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for filter := range h.revoked {
		if filter == topic || mqtt.TopicMatches(filter, topic) {
			return false
		}
	}
	return true
}

func (h *aclHook) revoke(filter string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revoked[filter] = true
}
