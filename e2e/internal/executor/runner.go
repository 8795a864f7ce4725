package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saaga0h/mqtt-samples/e2e/internal/checker"
	"github.com/saaga0h/mqtt-samples/e2e/internal/observer"
	"github.com/saaga0h/mqtt-samples/e2e/internal/reporter"
	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
	"github.com/saaga0h/mqtt-samples/internal/audit"
	"github.com/saaga0h/mqtt-samples/internal/journal"
	"github.com/saaga0h/mqtt-samples/internal/session"
	"github.com/saaga0h/mqtt-samples/pkg/config"
	"github.com/saaga0h/mqtt-samples/pkg/mqtt"
	"github.com/saaga0h/mqtt-samples/pkg/postgres"
	"github.com/saaga0h/mqtt-samples/pkg/redis"
)

// connectTimeout bounds the initial connect and subscriptions of a run
const connectTimeout = 10 * time.Second

// Runner plays scenarios against an embedded broker
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	broker   *Broker
	session  *session.Session
	observer *observer.Observer
	clientID string
	done     chan struct{}

	journal *journal.Journal
	audit   *audit.Recorder
	closers []func()

	fatalMu sync.Mutex
	fatal   error
}

// NewRunner creates a runner. cfg supplies the broker address (Endpoint and
// Port), the reconnect backoff and the optional journal and audit backends.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
	}
}

// Run executes a scenario
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario) (*scenario.TestResult, []reporter.TimelineEvent, error) {
	r.logger.Info("Starting scenario", "name", s.Name, "description", s.Description)

	if err := r.initialize(ctx, s); err != nil {
		r.cleanup()
		return nil, nil, fmt.Errorf("initialization failed: %w", err)
	}
	defer r.cleanup()

	startTime := time.Now()
	var timelineEvents []reporter.TimelineEvent

	type timed struct {
		at    int
		step  *scenario.Step
		check *scenario.Expectation
	}
	var plan []timed
	for i := range s.Steps {
		plan = append(plan, timed{at: s.Steps[i].At, step: &s.Steps[i]})
	}
	for i := range s.Expectations {
		plan = append(plan, timed{at: s.Expectations[i].At, check: &s.Expectations[i]})
	}
	// Steps run before checks due at the same time
	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].at != plan[j].at {
			return plan[i].at < plan[j].at
		}
		return plan[i].step != nil && plan[j].step == nil
	})

	var expectationResults []scenario.ExpectationResult
	for _, item := range plan {
		if err := WaitUntil(ctx, startTime, item.at); err != nil {
			return nil, nil, err
		}
		elapsed := GetElapsed(startTime)

		if item.step != nil {
			r.logger.Info("Running step", "elapsed", elapsed, "action", item.step.Action, "description", item.step.Description)
			if err := r.perform(*item.step); err != nil {
				return nil, nil, fmt.Errorf("step %q failed: %w", item.step.Description, err)
			}
			timelineEvents = append(timelineEvents, reporter.TimelineEvent{
				Elapsed:     elapsed,
				Layer:       "broker",
				Description: fmt.Sprintf("%s (%s)", item.step.Action, item.step.Description),
			})
			continue
		}

		exp := *item.check
		passed, reason, actual := checker.CheckExpectation(ctx, exp, r.snapshot())
		expectationResults = append(expectationResults, scenario.ExpectationResult{
			Expectation: exp,
			Passed:      passed,
			Reason:      reason,
			Actual:      actual,
		})

		if passed {
			r.logger.Info("Expectation passed", "elapsed", elapsed, "check", exp.Description())
		} else {
			r.logger.Warn("Expectation failed", "elapsed", elapsed, "check", exp.Description(), "reason", reason)
		}

		timelineEvents = append(timelineEvents, reporter.TimelineEvent{
			Elapsed:     elapsed,
			Layer:       "check",
			Description: exp.Description(),
			Success:     passed,
			IsCheck:     true,
		})
	}

	// Setup events show with a negative offset
	for _, ev := range r.observer.GetAllEvents() {
		timelineEvents = append(timelineEvents, reporter.TimelineEvent{
			Elapsed:     ev.Timestamp.Sub(startTime).Seconds(),
			Layer:       "client",
			Description: describeEvent(ev),
		})
	}
	sort.SliceStable(timelineEvents, func(i, j int) bool {
		return timelineEvents[i].Elapsed < timelineEvents[j].Elapsed
	})

	endTime := time.Now()

	passedCount := 0
	failedCount := 0
	for _, result := range expectationResults {
		if result.Passed {
			passedCount++
		} else {
			failedCount++
		}
	}

	testResult := &scenario.TestResult{
		Scenario:     s,
		StartTime:    startTime,
		EndTime:      endTime,
		Passed:       failedCount == 0,
		PassedCount:  passedCount,
		FailedCount:  failedCount,
		Expectations: expectationResults,
	}
	final := r.snapshot()
	testResult.FinalState = final.Coordinator
	testResult.Subscriptions = final.Subscriptions
	if final.Fatal != nil {
		testResult.Fatal = final.Fatal.Error()
	}

	return testResult, timelineEvents, nil
}

// initialize starts the broker, connects the client under test and makes
// the scenario's subscriptions
func (r *Runner) initialize(ctx context.Context, s *scenario.Scenario) error {
	addr := net.JoinHostPort(r.cfg.Endpoint, strconv.Itoa(r.cfg.Port))
	r.broker = NewBroker(addr, r.logger)
	if err := r.broker.Start(); err != nil {
		return err
	}
	r.closers = append(r.closers, func() { r.broker.Close() })

	clientCfg := *r.cfg
	clientCfg.Plaintext = true
	clientCfg.ProxyHost = ""
	clientCfg.CleanSession = s.Setup.CleanSession
	clientCfg.ClientID = s.Setup.ClientID
	if clientCfg.ClientID == "" {
		clientCfg.ClientID = "resilience-" + uuid.NewString()
	}
	r.clientID = clientCfg.ClientID

	client, err := mqtt.NewClient(&clientCfg, r.logger)
	if err != nil {
		return err
	}
	r.session = session.New(client, clientCfg.DisconnectQuiesce, r.logger)

	r.observer = observer.NewObserver(time.Now(), r.logger)
	r.observer.Attach(r.session)

	if err := r.attachBackends(ctx, &clientCfg); err != nil {
		return err
	}

	r.done = make(chan struct{})
	r.closers = append(r.closers, func() { close(r.done) })
	go r.watchFatal()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if _, err := r.session.Connect().Wait(connectCtx); err != nil {
		return err
	}
	r.closers = append(r.closers, func() {
		if _, err := r.session.Disconnect().Wait(context.Background()); err != nil {
			r.logger.Warn("Disconnect failed", "error", err)
		}
	})

	for _, sub := range s.Setup.Subscriptions {
		if _, err := r.session.Subscribe(sub.Topic, sub.QoS, nil).Wait(connectCtx); err != nil {
			return err
		}
	}

	return nil
}

// attachBackends wires the journal and the audit when they are configured
func (r *Runner) attachBackends(ctx context.Context, cfg *config.Config) error {
	if cfg.JournalEnabled() {
		redisClient := redis.NewClient(cfg, r.logger)
		if err := redisClient.Ping(ctx); err != nil {
			redisClient.Close()
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		r.closers = append(r.closers, func() { redisClient.Close() })

		r.journal = journal.New(redisClient, cfg, r.logger)
		r.journal.Attach(r.session)
	}

	if cfg.AuditEnabled() {
		db := postgres.NewClient(cfg, r.logger)
		if err := db.Connect(ctx); err != nil {
			return err
		}
		r.closers = append(r.closers, func() { db.Disconnect() })

		r.audit = audit.New(db, cfg, r.logger)
		if err := r.audit.EnsureSchema(ctx); err != nil {
			return err
		}
		r.audit.Attach(r.session)
	}

	return nil
}

func (r *Runner) perform(step scenario.Step) error {
	switch step.Action {
	case scenario.ActionPublish:
		return r.broker.Publish(step.Topic, []byte(step.Payload), step.QoS)
	case scenario.ActionDrop:
		return r.broker.Drop(r.clientID)
	case scenario.ActionRestart:
		return r.broker.Restart()
	case scenario.ActionRevoke:
		r.broker.Revoke(step.Topic)
		return nil
	case scenario.ActionWait:
		return nil
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *Runner) watchFatal() {
	select {
	case err := <-r.session.Fatal():
		r.logger.Warn("Session reported a fatal error", "error", err)
		r.fatalMu.Lock()
		r.fatal = err
		r.fatalMu.Unlock()
	case <-r.done:
	}
}

func (r *Runner) snapshot() checker.Snapshot {
	r.fatalMu.Lock()
	fatal := r.fatal
	r.fatalMu.Unlock()

	snap := checker.Snapshot{
		Observer:      r.observer,
		Coordinator:   r.session.CoordinatorState().String(),
		Subscriptions: len(r.session.Subscriptions()),
		Fatal:         fatal,
	}
	// Left nil rather than holding typed nil pointers
	if r.journal != nil {
		snap.Journal = r.journal
	}
	if r.audit != nil {
		snap.Audit = r.audit
	}
	return snap
}

// cleanup disconnects the client and stops the broker, in reverse order of setup
func (r *Runner) cleanup() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// SaveCapture saves the captured deliveries and events to a file
func (r *Runner) SaveCapture(filename string) error {
	if r.observer == nil {
		return fmt.Errorf("observer not initialized")
	}
	return r.observer.SaveCapture(filename)
}

func describeEvent(ev observer.CapturedEvent) string {
	switch ev.Kind {
	case string(session.EventResumed), string(session.EventConnected):
		return fmt.Sprintf("%s (return_code=%d session_present=%t)", ev.Kind, ev.ReturnCode, ev.SessionPresent)
	case string(session.EventResubscribeFailed):
		return fmt.Sprintf("%s %s: %s", ev.Kind, ev.Topic, ev.Error)
	case string(session.EventInterrupted):
		return fmt.Sprintf("%s: %s", ev.Kind, ev.Error)
	default:
		return ev.Kind
	}
}
