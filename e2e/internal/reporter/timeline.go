package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
)

const boxWidth = 58

// TimelineEvent is one line of the run's timeline
type TimelineEvent struct {
	Elapsed     float64
	Layer       string // "broker", "client" or "check"
	Description string
	Success     bool // only meaningful for checks
	IsCheck     bool
}

func (e TimelineEvent) icon() string {
	switch {
	case !e.IsCheck:
		return "→"
	case e.Success:
		return "✓"
	default:
		return "✗"
	}
}

// GenerateTimeline renders a scenario run: header, every broker action,
// client event and check in time order, the expectation list and the
// client's final state.
func GenerateTimeline(result *scenario.TestResult, events []TimelineEvent) string {
	var sb strings.Builder

	box(&sb,
		"Scenario: "+result.Scenario.Name,
		"Duration: "+formatDuration(result.EndTime.Sub(result.StartTime)),
	)
	sb.WriteString("\n")

	for _, ev := range events {
		fmt.Fprintf(&sb, "[%7.2fs] %s %-7s: %s\n", ev.Elapsed, ev.icon(), ev.Layer, ev.Description)
	}

	sb.WriteString("\n=== Expectations ===\n")
	for _, res := range result.Expectations {
		icon := "✓"
		if !res.Passed {
			icon = "✗"
		}
		fmt.Fprintf(&sb, "  %s @%dms %s", icon, res.Expectation.At, res.Expectation.Description())
		switch {
		case !res.Passed:
			fmt.Fprintf(&sb, ": %s", res.Reason)
		case res.Actual != nil:
			fmt.Fprintf(&sb, " (%v)", res.Actual)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	status := "ALL CHECKS PASSED"
	if result.FailedCount > 0 {
		status = fmt.Sprintf("%d CHECK(S) FAILED", result.FailedCount)
	}
	lines := []string{
		"SUMMARY",
		fmt.Sprintf("Passed: %d  Failed: %d", result.PassedCount, result.FailedCount),
		"Status: " + status,
		fmt.Sprintf("Coordinator: %s  Subscriptions: %d", result.FinalState, result.Subscriptions),
	}
	if result.Fatal != "" {
		lines = append(lines, "Fatal: "+result.Fatal)
	}
	box(&sb, lines...)

	return sb.String()
}

// box draws lines inside a fixed-width frame, truncating long ones
func box(sb *strings.Builder, lines ...string) {
	border := strings.Repeat("═", boxWidth)
	sb.WriteString("╔" + border + "╗\n")
	for _, line := range lines {
		fmt.Fprintf(sb, "║  %-*s║\n", boxWidth-2, truncate(line, boxWidth-2))
	}
	sb.WriteString("╚" + border + "╝\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%dm %.1fs", minutes, (d - time.Duration(minutes)*time.Minute).Seconds())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
