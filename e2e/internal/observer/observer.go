package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saaga0h/mqtt-samples/internal/session"
)

// CapturedMessage represents a single delivery captured during observation
type CapturedMessage struct {
	Timestamp time.Time   `json:"timestamp"`
	Elapsed   float64     `json:"elapsed"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	QoS       byte        `json:"qos"`
	Duplicate bool        `json:"duplicate"`
}

// CapturedEvent represents a lifecycle event captured during observation
type CapturedEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Elapsed        float64   `json:"elapsed"`
	Kind           string    `json:"kind"`
	Topic          string    `json:"topic,omitempty"`
	Error          string    `json:"error,omitempty"`
	ReturnCode     byte      `json:"return_code"`
	SessionPresent bool      `json:"session_present"`
}

// Source is what the observer listens to, normally a *session.Session
type Source interface {
	OnLifecycle(h session.LifecycleHandler)
	OnMessage(h session.MessageHandler)
}

// Observer records everything a session delivers
type Observer struct {
	startTime time.Time
	logger    *slog.Logger

	mutex    sync.RWMutex
	messages []CapturedMessage
	events   []CapturedEvent
}

// NewObserver creates an observer; elapsed times are measured from start
func NewObserver(start time.Time, logger *slog.Logger) *Observer {
	return &Observer{
		startTime: start,
		logger:    logger,
	}
}

// Attach starts capturing src
func (o *Observer) Attach(src Source) {
	src.OnMessage(o.messageHandler)
	src.OnLifecycle(o.lifecycleHandler)
}

func (o *Observer) messageHandler(_ context.Context, msg session.Message) error {
	// Try to parse payload as JSON
	var payload interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		payload = string(msg.Payload)
	}

	captured := CapturedMessage{
		Timestamp: time.Now(),
		Elapsed:   time.Since(o.startTime).Seconds(),
		Topic:     msg.Topic,
		Payload:   payload,
		QoS:       msg.QoS,
		Duplicate: msg.Duplicate,
	}

	o.mutex.Lock()
	o.messages = append(o.messages, captured)
	o.mutex.Unlock()

	o.logger.Debug("Captured message", "elapsed", captured.Elapsed, "topic", msg.Topic, "dup", msg.Duplicate)
	return nil
}

func (o *Observer) lifecycleHandler(ev session.LifecycleEvent) {
	captured := CapturedEvent{
		Timestamp:      ev.At,
		Elapsed:        ev.At.Sub(o.startTime).Seconds(),
		Kind:           string(ev.Kind),
		Topic:          ev.Topic,
		ReturnCode:     ev.ReturnCode,
		SessionPresent: ev.SessionPresent,
	}
	if ev.Err != nil {
		captured.Error = ev.Err.Error()
	}

	o.mutex.Lock()
	o.events = append(o.events, captured)
	o.mutex.Unlock()

	o.logger.Debug("Captured event", "elapsed", captured.Elapsed, "kind", ev.Kind)
}

// GetMessagesByTopic returns all messages for a specific topic
func (o *Observer) GetMessagesByTopic(topic string) []CapturedMessage {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var matches []CapturedMessage
	for _, msg := range o.messages {
		if msg.Topic == topic {
			matches = append(matches, msg)
		}
	}
	return matches
}

// GetEventsByKind returns all lifecycle events of one kind
func (o *Observer) GetEventsByKind(kind string) []CapturedEvent {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var matches []CapturedEvent
	for _, ev := range o.events {
		if ev.Kind == kind {
			matches = append(matches, ev)
		}
	}
	return matches
}

// GetAllEvents returns a copy of every captured lifecycle event
func (o *Observer) GetAllEvents() []CapturedEvent {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	events := make([]CapturedEvent, len(o.events))
	copy(events, o.events)
	return events
}

// SaveCapture saves everything captured to a JSON file
func (o *Observer) SaveCapture(filename string) error {
	o.mutex.RLock()
	capture := struct {
		Messages []CapturedMessage `json:"messages"`
		Events   []CapturedEvent   `json:"events"`
	}{o.messages, o.events}
	data, err := json.MarshalIndent(capture, "", "  ")
	o.mutex.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to marshal capture: %w", err)
	}

	if err := saveToFile(filename, data); err != nil {
		return fmt.Errorf("failed to save capture: %w", err)
	}

	o.logger.Info("Saved capture", "messages", len(capture.Messages), "events", len(capture.Events), "file", filename)
	return nil
}
