package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/saaga0h/mqtt-samples/pkg/config"
)

// defaultConnectWait bounds the wait for an abandoned connect attempt when no
// connect timeout is configured
const defaultConnectWait = 30 * time.Second

// mqttClient implements the Client interface using the Paho MQTT client.
//
// Paho's own auto-reconnect hides the CONNACK of a resumed connection, so it is
// disabled and reconnectLoop re-dials instead, reporting each resumed CONNACK
// to the event handler.
type mqttClient struct {
	client pahomqtt.Client
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.RWMutex
	handler EventHandler

	stop         chan struct{}
	stopOnce     sync.Once
	reconnecting atomic.Bool
}

// NewClient creates a new MQTT client with the given configuration
func NewClient(cfg *config.Config, logger *slog.Logger) (Client, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)

	// Connection settings
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	if !cfg.Plaintext {
		tlsCfg, err := NewTLSConfig(cfg.CertPath, cfg.KeyPath, cfg.CAPath, cfg.Port)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	if proxyURL := cfg.ProxyURL(); proxyURL != nil {
		open, err := proxyOpenConnection(proxyURL, cfg.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		opts.SetCustomOpenConnectionFn(open)
		logger.Info("Routing MQTT connection through proxy", "proxy", proxyURL.Redacted())
	}

	m := &mqttClient{
		cfg:     cfg,
		logger:  logger,
		handler: nopHandler{},
		stop:    make(chan struct{}),
	}

	// Connection handlers
	opts.SetDefaultPublishHandler(m.onMessage)
	opts.SetConnectionLostHandler(m.onConnectionLost)

	m.client = pahomqtt.NewClient(opts)
	return m, nil
}

// SetEventHandler registers the receiver of link events
func (m *mqttClient) SetEventHandler(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mqttClient) eventHandler() EventHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

// Connect makes a single connection attempt to the MQTT broker
func (m *mqttClient) Connect() ConnectToken {
	m.logger.Info("Connecting to MQTT broker", "broker", m.cfg.BrokerURL(), "client_id", m.cfg.ClientID)
	return &connectToken{Token: m.client.Connect()}
}

// Disconnect closes the connection to the MQTT broker and stops reconnecting
func (m *mqttClient) Disconnect(quiesce time.Duration) {
	m.stopOnce.Do(func() { close(m.stop) })
	m.logger.Info("Disconnecting from MQTT broker")
	m.client.Disconnect(uint(quiesce.Milliseconds()))
}

// Subscribe subscribes to a topic filter. Matching messages arrive through
// EventHandler.Received.
func (m *mqttClient) Subscribe(topic string, qos byte) SubscribeToken {
	m.logger.Info("Subscribing to MQTT topic", "topic", topic, "qos", qos)
	return &subscribeToken{Token: m.client.Subscribe(topic, qos, nil), topic: topic}
}

// Publish publishes a message to a topic
func (m *mqttClient) Publish(topic string, qos byte, retained bool, payload []byte) PublishToken {
	m.logger.Debug("Publishing message", "topic", topic, "qos", qos, "size", len(payload))
	return &publishToken{Token: m.client.Publish(topic, qos, retained, payload)}
}

// IsConnected returns whether the client is currently connected
func (m *mqttClient) IsConnected() bool {
	return m.client.IsConnectionOpen()
}

func (m *mqttClient) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	m.eventHandler().Received(Message{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		QoS:       msg.Qos(),
		Duplicate: msg.Duplicate(),
		Retained:  msg.Retained(),
		PacketID:  msg.MessageID(),
	})
}

func (m *mqttClient) onConnectionLost(_ pahomqtt.Client, err error) {
	m.logger.Warn("MQTT connection lost", "error", err)
	m.eventHandler().Interrupted(err)
	go m.reconnectLoop()
}

func (m *mqttClient) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// reconnectLoop re-dials the broker with exponential backoff until a
// connection is accepted or Disconnect is called.
func (m *mqttClient) reconnectLoop() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer m.reconnecting.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := newReconnectBackOff(m.cfg.ReconnectMin, m.cfg.ReconnectMax)
	first := policy.NextBackOff()
	m.logger.Info("MQTT reconnecting...", "delay", first)
	select {
	case <-ctx.Done():
		return
	case <-time.After(first):
	}

	attempt := 0
	dial := func() error {
		attempt++
		return m.redial(ctx, attempt)
	}
	notify := func(err error, delay time.Duration) {
		m.logger.Warn("MQTT reconnect attempt failed", "attempt", attempt, "retry_in", delay, "error", err)
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(policy, ctx), notify); err != nil {
		m.logger.Info("MQTT reconnect stopped", "attempt", attempt, "reason", err)
	}
}

// redial makes one connection attempt. A refused CONNACK is reported to the
// event handler before the attempt is retried.
func (m *mqttClient) redial(ctx context.Context, attempt int) error {
	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		m.release(token)
		return backoff.Permanent(ctx.Err())
	}

	if m.stopped() {
		// Disconnect raced with the attempt; do not leave a live link behind.
		m.client.Disconnect(0)
		return backoff.Permanent(errStopped)
	}

	ack := connAckOf(token)
	if err := token.Error(); err != nil {
		if ack.Refused() {
			m.eventHandler().Resumed(ack)
		}
		return fmt.Errorf("return code %d: %w", ack.ReturnCode, err)
	}

	m.logger.Info("MQTT connection resumed", "attempt", attempt, "session_present", ack.SessionPresent)
	m.eventHandler().Resumed(ack)
	return nil
}

// release waits, up to the connect timeout, for an abandoned attempt and
// closes whatever link it produced.
func (m *mqttClient) release(token pahomqtt.Token) {
	if !token.WaitTimeout(m.connectWait()) {
		m.logger.Warn("Abandoned MQTT connect attempt did not finish")
	}
	m.client.Disconnect(0)
}

func (m *mqttClient) connectWait() time.Duration {
	if m.cfg.ConnectTimeout > 0 {
		return m.cfg.ConnectTimeout
	}
	return defaultConnectWait
}

func connAckOf(token pahomqtt.Token) ConnAck {
	ct, ok := token.(*pahomqtt.ConnectToken)
	if !ok {
		return ConnAck{}
	}
	return ConnAck{ReturnCode: ct.ReturnCode(), SessionPresent: ct.SessionPresent()}
}

type connectToken struct {
	pahomqtt.Token
}

func (t *connectToken) ConnAck() ConnAck {
	return connAckOf(t.Token)
}

type subscribeToken struct {
	pahomqtt.Token
	topic string
}

func (t *subscribeToken) Granted() (byte, bool) {
	st, ok := t.Token.(*pahomqtt.SubscribeToken)
	if !ok {
		return 0, false
	}
	code, found := st.Result()[resultKey(t.topic)]
	if !found || code >= subackFailure {
		return code, false
	}
	return code, true
}

// PacketID is not exposed by paho for SUBSCRIBE.
func (t *subscribeToken) PacketID() uint16 {
	return 0
}

// resultKey mirrors the key paho uses in SubscribeToken.Result, which drops
// shared subscription prefixes.
func resultKey(topic string) string {
	if strings.HasPrefix(topic, "$share/") {
		parts := strings.SplitN(topic, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return strings.TrimPrefix(topic, "$queue/")
}

type publishToken struct {
	pahomqtt.Token
}

func (t *publishToken) PacketID() uint16 {
	if pt, ok := t.Token.(*pahomqtt.PublishToken); ok {
		return pt.MessageID()
	}
	return 0
}

type nopHandler struct{}

func (nopHandler) Interrupted(error) {}
func (nopHandler) Resumed(ConnAck)   {}
func (nopHandler) Received(Message)  {}
