package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/saaga0h/mqtt-samples/pkg/config"
)

// Pool settings. The audit writes a handful of rows per connection event.
const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = 30 * time.Minute
)

// ErrNotConnected is returned when the client is used before Connect
var ErrNotConnected = errors.New("postgres client not connected")

// PostgresClient is a small lib/pq pool used by the lifecycle audit.
type PostgresClient struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
}

// NewClient returns an unconnected client for cfg.PostgresDSN.
func NewClient(cfg *config.Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresClient{
		dsn:    cfg.PostgresDSN,
		logger: logger.With("component", "postgres"),
	}
}

// Connect opens the pool and verifies it with a ping.
func (c *PostgresClient) Connect(ctx context.Context) error {
	if c.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", c.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	c.db = db
	c.logger.Info("Connected to Postgres")
	return nil
}

// Disconnect closes the pool. It is safe to call on an unconnected client.
func (c *PostgresClient) Disconnect() error {
	if c.db == nil {
		return nil
	}
	db := c.db
	c.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	c.logger.Info("Disconnected from Postgres")
	return nil
}

func (c *PostgresClient) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db.ExecContext(ctx, query, args...)
}

func (c *PostgresClient) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db.QueryContext(ctx, query, args...)
}

// Transaction runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise.
func (c *PostgresClient) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	if c.db == nil {
		return ErrNotConnected
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Warn("Rollback failed", "error", rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
