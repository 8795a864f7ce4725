package reporter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
)

// Summary is the machine-readable outcome of a scenario run
type Summary struct {
	Scenario string         `json:"scenario"`
	Started  time.Time      `json:"started"`
	Duration string         `json:"duration"`
	Passed   bool           `json:"passed"`
	Counts   map[string]int `json:"counts"`
	Final    FinalState     `json:"final"`
	Failures []FailedCheck  `json:"failures,omitempty"`
	Checks   []SummaryCheck `json:"checks"`
}

// FinalState is the client's state when the last check ran
type FinalState struct {
	Coordinator   string `json:"coordinator"`
	Subscriptions int    `json:"subscriptions"`
	Fatal         string `json:"fatal,omitempty"`
}

// SummaryCheck is one evaluated expectation
type SummaryCheck struct {
	AtMs        int         `json:"at_ms"`
	Description string      `json:"description"`
	Passed      bool        `json:"passed"`
	Actual      interface{} `json:"actual,omitempty"`
}

// FailedCheck names a failed expectation and why it failed
type FailedCheck struct {
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// NewSummary condenses a test result
func NewSummary(result *scenario.TestResult) Summary {
	s := Summary{
		Scenario: result.Scenario.Name,
		Started:  result.StartTime,
		Duration: formatDuration(result.EndTime.Sub(result.StartTime)),
		Passed:   result.Passed,
		Counts: map[string]int{
			"passed": result.PassedCount,
			"failed": result.FailedCount,
		},
		Final: FinalState{
			Coordinator:   result.FinalState,
			Subscriptions: result.Subscriptions,
			Fatal:         result.Fatal,
		},
	}

	for _, res := range result.Expectations {
		s.Checks = append(s.Checks, SummaryCheck{
			AtMs:        res.Expectation.At,
			Description: res.Expectation.Description(),
			Passed:      res.Passed,
			Actual:      res.Actual,
		})
		if !res.Passed {
			s.Failures = append(s.Failures, FailedCheck{
				Description: res.Expectation.Description(),
				Reason:      res.Reason,
			})
		}
	}

	return s
}

// SaveSummary saves a JSON summary of test results
func SaveSummary(result *scenario.TestResult, filename string) error {
	data, err := json.MarshalIndent(NewSummary(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return writeFile(filename, data)
}
