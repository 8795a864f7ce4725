package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientNotConnected(t *testing.T) {
	client := NewClient(config.NewConfig(), nil)
	ctx := context.Background()

	_, err := client.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.Transaction(ctx, func(*sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)

	status, err := client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, "not connected", status.Error)

	assert.NoError(t, client.Disconnect())
}

// Requires a running Postgres at MQTT_SAMPLES_TEST_POSTGRES_DSN
func TestHealthCheckIntegration(t *testing.T) {
	dsn := os.Getenv("MQTT_SAMPLES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MQTT_SAMPLES_TEST_POSTGRES_DSN not set")
	}

	cfg := config.NewConfig()
	cfg.PostgresDSN = dsn
	client := NewClient(cfg, nil)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	status, err := client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.NotEmpty(t, status.ServerVersion)
	assert.Positive(t, status.Latency)
}
