// Package audit stores connection lifecycle events in PostgreSQL.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/postgres"
)

// writeTimeout bounds each audit insert
const writeTimeout = 5 * time.Second

const createTable = `
CREATE TABLE IF NOT EXISTS mqtt_connection_events (
	id              BIGSERIAL PRIMARY KEY,
	client_id       TEXT        NOT NULL,
	endpoint        TEXT        NOT NULL,
	kind            TEXT        NOT NULL,
	return_code     SMALLINT    NOT NULL DEFAULT 0,
	session_present BOOLEAN     NOT NULL DEFAULT FALSE,
	topic           TEXT,
	detail          TEXT,
	occurred_at     TIMESTAMPTZ NOT NULL
)`

const createIndex = `
CREATE INDEX IF NOT EXISTS idx_mqtt_connection_events_client
	ON mqtt_connection_events (client_id, occurred_at DESC)`

const insertEvent = `
INSERT INTO mqtt_connection_events
	(client_id, endpoint, kind, return_code, session_present, topic, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectRecent = `
SELECT kind, return_code, session_present, COALESCE(topic, ''), COALESCE(detail, ''), occurred_at
FROM mqtt_connection_events
WHERE client_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2`

// Entry is one stored lifecycle event.
type Entry struct {
	Kind           string
	ReturnCode     byte
	SessionPresent bool
	Topic          string
	Detail         string
	OccurredAt     time.Time
}

// Source is where the recorder gets its events from, normally a *session.Session.
type Source interface {
	OnLifecycle(h session.LifecycleHandler)
}

// Recorder writes lifecycle events for one client
type Recorder struct {
	db       postgres.Client
	clientID string
	endpoint string
	logger   *slog.Logger
}

// New creates a recorder for the configured client
func New(db postgres.Client, cfg *config.Config, logger *slog.Logger) *Recorder {
	return &Recorder{
		db:       db,
		clientID: cfg.ClientID,
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

// EnsureSchema creates the events table and its index if they are missing
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createTable); err != nil {
			return fmt.Errorf("failed to create mqtt_connection_events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, createIndex); err != nil {
			return fmt.Errorf("failed to create mqtt_connection_events index: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug("Audit schema ready")
	return nil
}

// Attach records every lifecycle event of src. Failures are logged only.
func (r *Recorder) Attach(src Source) {
	src.OnLifecycle(func(ev session.LifecycleEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.Record(ctx, ev); err != nil {
			r.logger.Warn("Failed to audit lifecycle event", "kind", ev.Kind, "error", err)
		}
	})
}

// Record inserts one lifecycle event
func (r *Recorder) Record(ctx context.Context, ev session.LifecycleEvent) error {
	occurred := ev.At
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var topic, detail sql.NullString
	if ev.Topic != "" {
		topic = sql.NullString{String: ev.Topic, Valid: true}
	}
	if ev.Err != nil {
		detail = sql.NullString{String: ev.Err.Error(), Valid: true}
	} else if ev.Count > 0 {
		detail = sql.NullString{String: fmt.Sprintf("%d subscriptions restored", ev.Count), Valid: true}
	}

	_, err := r.db.Exec(ctx, insertEvent,
		r.clientID,
		r.endpoint,
		string(ev.Kind),
		int16(ev.ReturnCode),
		ev.SessionPresent,
		topic,
		detail,
		occurred.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// Recent returns the latest limit events of this client, newest first
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, selectRecent, r.clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			rc int16
		)
		if err := rows.Scan(&e.Kind, &rc, &e.SessionPresent, &e.Topic, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.ReturnCode = byte(rc)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
