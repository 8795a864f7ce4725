package scenario

import (
	"fmt"

	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
)

// ValidateScenario performs validation checks on a loaded scenario
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("scenario description is required")
	}

	if err := validateSetup(s.Setup); err != nil {
		return fmt.Errorf("setup validation failed: %w", err)
	}

	if err := validateSteps(s.Steps); err != nil {
		return fmt.Errorf("steps validation failed: %w", err)
	}

	if err := validateExpectations(s.Expectations); err != nil {
		return fmt.Errorf("expectations validation failed: %w", err)
	}

	return nil
}

func validateSetup(setup SetupConfig) error {
	if len(setup.Subscriptions) == 0 {
		return fmt.Errorf("at least one subscription is required")
	}

	for i, sub := range setup.Subscriptions {
		if err := mqtt.ValidateTopicFilter(sub.Topic); err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}
		if sub.QoS > mqtt.ExactlyOnce {
			return fmt.Errorf("subscription %d: qos must be 0, 1 or 2", i)
		}
	}

	return nil
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	for i, step := range steps {
		if step.At < 0 {
			return fmt.Errorf("step %d: at_ms cannot be negative", i)
		}

		if step.Description == "" {
			return fmt.Errorf("step %d: description is required", i)
		}

		switch step.Action {
		case ActionPublish:
			if err := mqtt.ValidateTopicName(step.Topic); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			if step.QoS > mqtt.ExactlyOnce {
				return fmt.Errorf("step %d: qos must be 0, 1 or 2", i)
			}
		case ActionRevoke:
			if step.Topic == "" {
				return fmt.Errorf("step %d: revoke requires 'topic'", i)
			}
		case ActionDrop, ActionRestart, ActionWait:
		default:
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
	}

	return nil
}

func validateExpectations(expectations []Expectation) error {
	if len(expectations) == 0 {
		return fmt.Errorf("at least one expectation is required")
	}

	for i, exp := range expectations {
		if exp.At < 0 {
			return fmt.Errorf("expectation %d: at_ms cannot be negative", i)
		}
		if exp.Count < 0 {
			return fmt.Errorf("expectation %d: count cannot be negative", i)
		}

		switch exp.Kind {
		case ExpectDelivered, ExpectFatal:
			if exp.Topic == "" {
				return fmt.Errorf("expectation %d: %s requires 'topic'", i, exp.Kind)
			}
		case ExpectEvent, ExpectAudit:
			if !validEvents[session.EventKind(exp.Event)] {
				return fmt.Errorf("expectation %d: unknown event %q", i, exp.Event)
			}
		case ExpectState:
			if !validStates[exp.State] {
				return fmt.Errorf("expectation %d: unknown state %q", i, exp.State)
			}
		case ExpectJournal, ExpectSubscriptions:
		default:
			return fmt.Errorf("expectation %d: unknown kind %q", i, exp.Kind)
		}
	}

	return nil
}

var validEvents = map[session.EventKind]bool{
	session.EventConnected:         true,
	session.EventInterrupted:       true,
	session.EventResumed:           true,
	session.EventResubscribed:      true,
	session.EventResubscribeFailed: true,
	session.EventDisconnected:      true,
}

var validStates = map[string]bool{
	session.AwaitingResume.String(): true,
	session.Established.String():    true,
	session.Resubscribing.String():  true,
	session.Failed.String():         true,
}
