package checker

import (
	"context"
	"errors"
	"fmt"

	"github.com/saaga0h/mqtt-samples/e2e/internal/observer"
	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
	"github.com/saaga0h/mqtt-samples/internal/session"
)

// Snapshot is what expectations are checked against
type Snapshot struct {
	Observer      *observer.Observer
	Coordinator   string
	Subscriptions int
	Fatal         error

	// Optional backends, nil when disabled
	Journal DeliveryJournal
	Audit   EventAudit
}

// CheckExpectation validates one expectation
func CheckExpectation(ctx context.Context, exp scenario.Expectation, snap Snapshot) (bool, string, interface{}) {
	switch exp.Kind {
	case scenario.ExpectDelivered:
		return checkDelivered(exp, snap.Observer.GetMessagesByTopic(exp.Topic))
	case scenario.ExpectEvent:
		events := snap.Observer.GetEventsByKind(exp.Event)
		if exp.Topic != "" {
			var matching []observer.CapturedEvent
			for _, ev := range events {
				if ev.Topic == exp.Topic {
					matching = append(matching, ev)
				}
			}
			events = matching
		}
		return checkCount(fmt.Sprintf("%s events", exp.Event), exp, len(events))
	case scenario.ExpectState:
		if snap.Coordinator != exp.State {
			return false, fmt.Sprintf("coordinator is %s, expected %s", snap.Coordinator, exp.State), snap.Coordinator
		}
		return true, "", snap.Coordinator
	case scenario.ExpectFatal:
		return checkFatal(exp, snap.Fatal)
	case scenario.ExpectSubscriptions:
		if snap.Subscriptions != exp.Count {
			return false, fmt.Sprintf("%d active subscriptions, expected %d", snap.Subscriptions, exp.Count), snap.Subscriptions
		}
		return true, "", snap.Subscriptions
	case scenario.ExpectJournal:
		return CheckJournalExpectation(ctx, snap.Journal, exp)
	case scenario.ExpectAudit:
		return CheckAuditExpectation(ctx, snap.Audit, exp)
	default:
		return false, fmt.Sprintf("unknown expectation kind %q", exp.Kind), nil
	}
}

func checkDelivered(exp scenario.Expectation, messages []observer.CapturedMessage) (bool, string, interface{}) {
	if ok, reason, n := checkCount(fmt.Sprintf("messages on %q", exp.Topic), exp, len(messages)); !ok {
		return ok, reason, n
	}

	if exp.Payload == nil {
		return true, "", len(messages)
	}

	latest := messages[len(messages)-1]
	if ok, reason := MatchesExpectation(latest.Payload, exp.Payload); !ok {
		return false, reason, latest.Payload
	}
	return true, "", latest.Payload
}

// checkCount passes when got reaches the expected count, which defaults to one
func checkCount(what string, exp scenario.Expectation, got int) (bool, string, interface{}) {
	want := exp.Count
	if want == 0 {
		want = 1
	}
	if got < want {
		return false, fmt.Sprintf("%d %s, expected at least %d", got, what, want), got
	}
	return true, "", got
}

func checkFatal(exp scenario.Expectation, fatal error) (bool, string, interface{}) {
	if fatal == nil {
		return false, "no fatal error reported", nil
	}

	var resubErr *session.ResubscribeError
	if !errors.As(fatal, &resubErr) {
		return false, fmt.Sprintf("unexpected fatal error: %v", fatal), fatal.Error()
	}
	if resubErr.Topic != exp.Topic {
		return false, fmt.Sprintf("fatal error names %q, expected %q", resubErr.Topic, exp.Topic), resubErr.Topic
	}
	return true, "", resubErr.Topic
}
