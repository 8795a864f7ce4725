package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// ExecHandler runs an external analysis command for every message, passing
// the payload as text with -m. At most concurrency commands run at once;
// Handle blocks while the limit is reached.
type ExecHandler struct {
	command string
	out     io.Writer
	logger  *slog.Logger
	group   *errgroup.Group
}

// NewExecHandler creates a handler running command. A concurrency below 1
// means one command at a time.
func NewExecHandler(command string, concurrency int, out io.Writer, logger *slog.Logger) *ExecHandler {
	if concurrency < 1 {
		concurrency = 1
	}
	group := new(errgroup.Group)
	group.SetLimit(concurrency)

	return &ExecHandler{
		command: command,
		out:     out,
		logger:  logger,
		group:   group,
	}
}

// Handle starts the command for one message. Failures of the command are
// logged; they do not fail the delivery.
func (h *ExecHandler) Handle(ctx context.Context, topic string, payload []byte) error {
	if _, err := exec.LookPath(h.command); err != nil {
		return fmt.Errorf("analysis command %q not found: %w", h.command, err)
	}

	// Started commands run to completion even when the delivery context ends.
	runCtx := context.WithoutCancel(ctx)
	msg := string(payload)

	h.group.Go(func() error {
		cmd := exec.CommandContext(runCtx, h.command, "-m", msg)
		cmd.Stdout = h.out
		cmd.Stderr = h.out

		if err := cmd.Run(); err != nil {
			h.logger.Error("Analysis command failed",
				"command", h.command, "topic", topic, "error", err)
			return nil
		}
		h.logger.Debug("Analysis command finished", "command", h.command, "topic", topic)
		return nil
	})
	return nil
}

// Close waits for every running command to exit
func (h *ExecHandler) Close() error {
	return h.group.Wait()
}
