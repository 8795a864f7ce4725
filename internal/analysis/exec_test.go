package analysis

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecHandlerRunsCommand(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	var out bytes.Buffer
	h := NewExecHandler("echo", 1, &out, testLogger())

	require.NoError(t, h.Handle(context.Background(), "test/topic", []byte("first")))
	require.NoError(t, h.Handle(context.Background(), "test/topic", []byte("hello world")))
	require.NoError(t, h.Close())

	assert.Contains(t, out.String(), "-m first\n")
	// the payload is passed as one argument, never through a shell
	assert.Contains(t, out.String(), "-m hello world\n")
}

func TestExecHandlerCommandFailureIsNotFatal(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}

	h := NewExecHandler("false", 2, io.Discard, testLogger())
	assert.NoError(t, h.Handle(context.Background(), "test/topic", []byte("x")))
	assert.NoError(t, h.Close())
}

func TestExecHandlerMissingCommand(t *testing.T) {
	h := NewExecHandler("definitely-not-an-analysis-command", 0, io.Discard, testLogger())
	err := h.Handle(context.Background(), "test/topic", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, h.Close())
}

func TestExecHandlerOutlivesCancelledContext(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	var out bytes.Buffer
	h := NewExecHandler("echo", 1, &out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Handle(ctx, "test/topic", []byte("late")))
	require.NoError(t, h.Close())

	assert.Contains(t, out.String(), "-m late")
}
