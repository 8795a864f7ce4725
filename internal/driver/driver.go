// Package driver runs the publish and receive sample sequences on top of a
// session and prints their progress.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/saaga0h/mqtt-samples/internal/analysis"
	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

// Driver runs one sample sequence. Every step waits for the previous one;
// the first failing step aborts the sequence.
type Driver struct {
	session *session.Session
	cfg     *config.Config
	logger  *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// New creates a driver for sess and subscribes its progress printer to the
// session's lifecycle events.
func New(sess *session.Session, cfg *config.Config, out io.Writer, logger *slog.Logger) *Driver {
	d := &Driver{
		session: sess,
		cfg:     cfg,
		logger:  logger,
		out:     out,
	}
	sess.OnLifecycle(d.printLifecycle)
	return d
}

// Publish connects, subscribes to the configured topic, publishes the
// configured message once and disconnects.
func (d *Driver) Publish(ctx context.Context) error {
	if err := d.connect(ctx); err != nil {
		return err
	}

	if err := d.subscribe(ctx, nil); err != nil {
		d.disconnect()
		return err
	}

	payload, err := json.Marshal(d.cfg.Message)
	if err != nil {
		d.disconnect()
		return fmt.Errorf("failed to encode message: %w", err)
	}

	d.printf("Publishing message to topic '%s': %s\n", d.cfg.Topic, d.cfg.Message)
	res, err := d.session.Publish(d.cfg.Topic, payload, mqtt.AtLeastOnce).Wait(ctx)
	if err != nil {
		d.disconnect()
		return err
	}
	d.logger.Debug("Publish acknowledged", "topic", d.cfg.Topic, "packet_id", res.PacketID)

	d.disconnect()
	return nil
}

// Receive connects, subscribes to the configured topic with handler and
// keeps the session up until ctx is cancelled or the session reports a fatal
// error, then disconnects. The fatal error is returned.
func (d *Driver) Receive(ctx context.Context, handler analysis.Handler) error {
	if err := d.connect(ctx); err != nil {
		return err
	}

	onMessage := func(ctx context.Context, msg session.Message) error {
		d.printf("Received message from topic '%s': %s\n", msg.Topic, msg.Payload)
		return handler.Handle(ctx, msg.Topic, msg.Payload)
	}
	if err := d.subscribe(ctx, onMessage); err != nil {
		d.disconnect()
		return err
	}

	d.printf("Start to receive messages...\n")

	var fatal error
	select {
	case <-ctx.Done():
		d.logger.Info("Stopping receive", "reason", context.Cause(ctx))
	case fatal = <-d.session.Fatal():
		d.logger.Error("Session failed", "error", fatal)
	}

	d.disconnect()
	return fatal
}

func (d *Driver) connect(ctx context.Context) error {
	if d.cfg.IsCI {
		d.printf("Connecting to endpoint with client ID\n")
	} else {
		d.printf("Connecting to %s with client ID '%s'...\n", d.cfg.Endpoint, d.cfg.ClientID)
	}

	if _, err := d.session.Connect().Wait(ctx); err != nil {
		return err
	}
	d.printf("Connected!\n")
	return nil
}

func (d *Driver) subscribe(ctx context.Context, handler session.MessageHandler) error {
	d.printf("Subscribing to topic '%s'...\n", d.cfg.Topic)

	res, err := d.session.Subscribe(d.cfg.Topic, mqtt.AtLeastOnce, handler).Wait(ctx)
	if err != nil {
		return err
	}
	d.printf("Subscribed with QoS %d\n", res.GrantedQoS)
	return nil
}

// disconnect is the last step of every sequence. It runs even after the
// caller's context is cancelled and its errors are logged only.
func (d *Driver) disconnect() {
	d.printf("Disconnecting...\n")
	if _, err := d.session.Disconnect().Wait(context.Background()); err != nil {
		d.logger.Warn("Disconnect failed", "error", err)
		return
	}
	d.printf("Disconnected!\n")
}

func (d *Driver) printLifecycle(ev session.LifecycleEvent) {
	switch ev.Kind {
	case session.EventInterrupted:
		d.printf("Connection interrupted. error: %v\n", ev.Err)
	case session.EventResumed:
		d.printf("Connection resumed. return_code: %d session_present: %t\n", ev.ReturnCode, ev.SessionPresent)
		if ev.ReturnCode == mqtt.ReturnCodeAccepted && !ev.SessionPresent {
			d.printf("Session did not persist. Resubscribing to existing topics...\n")
		}
	case session.EventResubscribed:
		d.printf("Resubscribe results: %s\n", formatResults(ev.Results))
	}
}

// formatResults renders restored subscriptions as {'topics': [('a/b', 1)]}
func formatResults(results []session.ResubscribeResult) string {
	topics := make([]string, 0, len(results))
	for _, r := range results {
		topics = append(topics, fmt.Sprintf("('%s', %d)", r.Topic, r.GrantedQoS))
	}
	return "{'topics': [" + strings.Join(topics, ", ") + "]}"
}

func (d *Driver) printf(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, format, args...)
}

// ExitMessage returns the line a sample prints before exiting with a
// non-zero status because of err.
func ExitMessage(err error) string {
	var resubErr *session.ResubscribeError
	if errors.As(err, &resubErr) {
		return fmt.Sprintf("Server rejected resubscribe to topic: %s", resubErr.Topic)
	}

	var subErr *session.SubscribeError
	if errors.As(err, &subErr) && errors.Is(err, session.ErrRejected) {
		return fmt.Sprintf("Server rejected subscribe to topic: %s", subErr.Topic)
	}

	return fmt.Sprintf("Error: %v", err)
}
