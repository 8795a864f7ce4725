package scenario

import "time"

// Step actions
const (
	ActionPublish = "publish" // broker publishes a message to the client's subscriptions
	ActionDrop    = "drop"    // broker closes the client's connection, keeping its session
	ActionRestart = "restart" // broker restarts and forgets every session
	ActionRevoke  = "revoke"  // broker refuses further subscriptions to a topic
	ActionWait    = "wait"
)

// Expectation kinds
const (
	ExpectDelivered     = "delivered"     // messages received on a topic
	ExpectEvent         = "event"         // lifecycle events of one kind
	ExpectState         = "state"         // resubscription coordinator state
	ExpectFatal         = "fatal"         // fatal resubscription failure for a topic
	ExpectJournal       = "journal"       // deliveries written to the Redis journal
	ExpectAudit         = "audit"         // lifecycle rows written to PostgreSQL
	ExpectSubscriptions = "subscriptions" // size of the active subscription set
)

// Scenario is a scripted run of one client against an embedded broker
type Scenario struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	Setup        SetupConfig   `yaml:"setup"`
	Steps        []Step        `yaml:"steps"`
	Expectations []Expectation `yaml:"expectations"`
}

// SetupConfig defines the client under test
type SetupConfig struct {
	ClientID      string             `yaml:"client_id"`
	CleanSession  bool               `yaml:"clean_session"`
	Subscriptions []SubscriptionSpec `yaml:"subscriptions"`
}

// SubscriptionSpec is a subscription made before the first step
type SubscriptionSpec struct {
	Topic string `yaml:"topic"`
	QoS   byte   `yaml:"qos"`
}

// Step is one broker-side action
type Step struct {
	At          int    `yaml:"at_ms"` // Milliseconds from start
	Action      string `yaml:"action"`
	Topic       string `yaml:"topic,omitempty"`
	Payload     string `yaml:"payload,omitempty"`
	QoS         byte   `yaml:"qos,omitempty"`
	Description string `yaml:"description"`
}

// Expectation is an outcome checked at a point in time
type Expectation struct {
	At      int         `yaml:"at_ms"` // Milliseconds from start
	Kind    string      `yaml:"kind"`
	Topic   string      `yaml:"topic,omitempty"`
	Event   string      `yaml:"event,omitempty"`
	State   string      `yaml:"state,omitempty"`
	Count   int         `yaml:"count,omitempty"`
	Payload interface{} `yaml:"payload,omitempty"` // Matched against the latest delivery
}

// Description renders the expectation for timelines
func (e Expectation) Description() string {
	switch e.Kind {
	case ExpectDelivered:
		return "delivered " + e.Topic
	case ExpectEvent:
		return "event " + e.Event
	case ExpectState:
		return "state " + e.State
	case ExpectFatal:
		return "fatal " + e.Topic
	default:
		return e.Kind
	}
}

// TestResult represents the outcome of running a scenario
type TestResult struct {
	Scenario     *Scenario
	StartTime    time.Time
	EndTime      time.Time
	Passed       bool
	PassedCount  int
	FailedCount  int
	Expectations []ExpectationResult

	// Client state when the last check ran
	FinalState    string
	Subscriptions int
	Fatal         string
}

// ExpectationResult represents the result of checking a single expectation
type ExpectationResult struct {
	Expectation Expectation
	Passed      bool
	Reason      string
	Actual      interface{}
}
