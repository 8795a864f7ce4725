package postgres

import (
	"context"
	"database/sql"
)

// Client is the subset of a Postgres pool the audit and health checks use.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error

	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// Transaction commits when fn returns nil and rolls back otherwise
	Transaction(ctx context.Context, fn func(*sql.Tx) error) error

	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
