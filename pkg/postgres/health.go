package postgres

import (
	"context"
	"time"
)

// HealthStatus is the outcome of one probe of the pool.
type HealthStatus struct {
	Connected     bool          `json:"connected"`
	ServerVersion string        `json:"server_version,omitempty"`
	Latency       time.Duration `json:"latency_ns,omitempty"`
	OpenConns     int           `json:"open_conns"`
	InUse         int           `json:"in_use"`
	Error         string        `json:"error,omitempty"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// HealthCheck pings the server and reads its version. Probe failures are
// reported in the status, not as an error.
func (c *PostgresClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{CheckedAt: time.Now()}
	if c.db == nil {
		status.Error = "not connected"
		return status, nil
	}

	stats := c.db.Stats()
	status.OpenConns = stats.OpenConnections
	status.InUse = stats.InUse

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		status.Error = "ping: " + err.Error()
		return status, nil
	}
	status.Latency = time.Since(start)
	status.Connected = true

	// version is informational
	if err := c.db.QueryRowContext(ctx, "SHOW server_version").Scan(&status.ServerVersion); err != nil {
		status.Error = "version: " + err.Error()
	}
	return status, nil
}
