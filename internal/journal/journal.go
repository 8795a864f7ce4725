// Package journal appends received messages and connection events to capped
// Redis lists, one pair of lists per client id.
package journal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/redis"
)

// writeTimeout bounds each journal write
const writeTimeout = 2 * time.Second

// Payload encodings
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// Delivery is the journal entry for one received message.
type Delivery struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	Encoding   string    `json:"encoding"`
	QoS        byte      `json:"qos"`
	Duplicate  bool      `json:"duplicate"`
	Retained   bool      `json:"retained"`
	PacketID   uint16    `json:"packet_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Bytes returns the original payload
func (d Delivery) Bytes() ([]byte, error) {
	if d.Encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(d.Payload)
	}
	return []byte(d.Payload), nil
}

// Event is the journal entry for one lifecycle event.
type Event struct {
	Kind           string    `json:"kind"`
	At             time.Time `json:"at"`
	Error          string    `json:"error,omitempty"`
	ReturnCode     byte      `json:"return_code"`
	SessionPresent bool      `json:"session_present"`
	Topic          string    `json:"topic,omitempty"`
	Count          int       `json:"count,omitempty"`
}

// Source is where the journal gets its events from, normally a *session.Session.
type Source interface {
	OnLifecycle(h session.LifecycleHandler)
	OnMessage(h session.MessageHandler)
}

// Journal writes entries to Redis
type Journal struct {
	redis      redis.Client
	clientID   string
	maxEntries int64
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a journal for the configured client id
func New(client redis.Client, cfg *config.Config, logger *slog.Logger) *Journal {
	return &Journal{
		redis:      client,
		clientID:   cfg.ClientID,
		maxEntries: int64(cfg.JournalMaxEntries),
		ttl:        cfg.JournalTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Attach records every message and lifecycle event of src. Write failures
// are logged and never reach the session.
func (j *Journal) Attach(src Source) {
	src.OnMessage(func(ctx context.Context, msg session.Message) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := j.RecordDelivery(ctx, msg); err != nil {
			j.logger.Warn("Failed to journal delivery", "topic", msg.Topic, "error", err)
		}
		return nil
	})
	src.OnLifecycle(func(ev session.LifecycleEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := j.RecordEvent(ctx, ev); err != nil {
			j.logger.Warn("Failed to journal lifecycle event", "kind", ev.Kind, "error", err)
		}
	})
}

// RecordDelivery appends a received message
func (j *Journal) RecordDelivery(ctx context.Context, msg session.Message) error {
	entry := Delivery{
		Topic:      msg.Topic,
		QoS:        msg.QoS,
		Duplicate:  msg.Duplicate,
		Retained:   msg.Retained,
		PacketID:   msg.PacketID,
		ReceivedAt: j.now().UTC(),
	}
	if utf8.Valid(msg.Payload) {
		entry.Payload = string(msg.Payload)
		entry.Encoding = EncodingText
	} else {
		entry.Payload = base64.StdEncoding.EncodeToString(msg.Payload)
		entry.Encoding = EncodingBase64
	}

	return j.push(ctx, redis.DeliveriesKey(j.clientID), entry)
}

// RecordEvent appends a lifecycle event
func (j *Journal) RecordEvent(ctx context.Context, ev session.LifecycleEvent) error {
	entry := Event{
		Kind:           string(ev.Kind),
		At:             ev.At.UTC(),
		ReturnCode:     ev.ReturnCode,
		SessionPresent: ev.SessionPresent,
		Topic:          ev.Topic,
		Count:          ev.Count,
	}
	if entry.At.IsZero() {
		entry.At = j.now().UTC()
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}

	return j.push(ctx, redis.LifecycleKey(j.clientID), entry)
}

func (j *Journal) push(ctx context.Context, key string, entry interface{}) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	return j.redis.PushCapped(ctx, key, data, j.maxEntries, j.ttl)
}

// Deliveries returns up to limit journaled messages, newest first
func (j *Journal) Deliveries(ctx context.Context, limit int64) ([]Delivery, error) {
	return readList[Delivery](ctx, j.redis, redis.DeliveriesKey(j.clientID), limit)
}

// Events returns up to limit journaled lifecycle events, newest first
func (j *Journal) Events(ctx context.Context, limit int64) ([]Event, error) {
	return readList[Event](ctx, j.redis, redis.LifecycleKey(j.clientID), limit)
}

func readList[T any](ctx context.Context, client redis.Client, key string, limit int64) ([]T, error) {
	if limit <= 0 {
		return nil, nil
	}

	values, err := client.LRange(ctx, key, 0, limit-1)
	if err != nil {
		return nil, err
	}

	entries := make([]T, 0, len(values))
	for _, v := range values {
		var entry T
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse journal entry in %s: %w", key, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
