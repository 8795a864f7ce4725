package executor

import (
	"context"
	"time"
)

// WaitUntil waits until atMs milliseconds after start, or until ctx is done
func WaitUntil(ctx context.Context, start time.Time, atMs int) error {
	target := start.Add(time.Duration(atMs) * time.Millisecond)
	wait := time.Until(target)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetElapsed returns elapsed seconds since start
func GetElapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}
