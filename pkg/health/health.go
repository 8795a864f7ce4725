package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/postgres"
	"github.com/saaga0h/mqtt-samples/pkg/redis"
)

// dependencyTimeout bounds each backend probe of the detailed check
const dependencyTimeout = 2 * time.Second

// Session is the view of the MQTT session the checker reports on
type Session interface {
	State() session.State
	CoordinatorState() session.CoordinatorState
	Subscriptions() []session.Subscription
}

// Checker provides health check functionality for the sample programs
type Checker struct {
	session  Session
	redis    redis.Client
	postgres postgres.Client
	logger   *slog.Logger
}

// NewChecker creates a new health checker. redisClient and pgClient may be
// nil when the journal or the audit is disabled.
func NewChecker(sess Session, redisClient redis.Client, pgClient postgres.Client, logger *slog.Logger) *Checker {
	return &Checker{
		session:  sess,
		redis:    redisClient,
		postgres: pgClient,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Session   *SessionStatus `json:"session,omitempty"`
	Services  *Services      `json:"services,omitempty"`
}

// SessionStatus is the session part of the detailed response
type SessionStatus struct {
	State         string `json:"state"`
	Coordinator   string `json:"coordinator"`
	Subscriptions int    `json:"subscriptions"`
}

// Services represents the status of external dependencies
type Services struct {
	Redis    string `json:"redis"`
	Postgres string `json:"postgres"`
}

// HandlerFunc returns a liveness handler. It answers 200 whenever the
// process is serving requests.
func (h *Checker) HandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// DetailedHandlerFunc returns a handler that reports the session and every
// configured backend. It answers 503 unless the session is connected with
// its subscriptions in place.
func (h *Checker) DetailedHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := h.session.State()
		coordinator := h.session.CoordinatorState()

		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
		defer cancel()

		services := &Services{
			Redis:    h.redisStatus(ctx),
			Postgres: h.postgresStatus(ctx),
		}

		status := "healthy"
		statusCode := http.StatusOK
		if state != session.Connected || coordinator != session.Established {
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		} else if services.Redis == "disconnected" || services.Postgres == "disconnected" {
			// The journal and audit are best effort
			status = "degraded"
		}

		h.write(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Session: &SessionStatus{
				State:         state.String(),
				Coordinator:   coordinator.String(),
				Subscriptions: len(h.session.Subscriptions()),
			},
			Services: services,
		})
	}
}

// Mux returns a mux serving /health and /health/detailed
func (h *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HandlerFunc())
	mux.HandleFunc("/health/detailed", h.DetailedHandlerFunc())
	return mux
}

func (h *Checker) redisStatus(ctx context.Context) string {
	if h.redis == nil {
		return "disabled"
	}
	if err := h.redis.Ping(ctx); err != nil {
		h.logger.Debug("Redis health probe failed", "error", err)
		return "disconnected"
	}
	return "connected"
}

func (h *Checker) postgresStatus(ctx context.Context) string {
	if h.postgres == nil {
		return "disabled"
	}
	status, err := h.postgres.HealthCheck(ctx)
	if err != nil || !status.Connected {
		h.logger.Debug("Postgres health probe failed", "error", err)
		return "disconnected"
	}
	return "connected"
}

func (h *Checker) write(w http.ResponseWriter, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}
