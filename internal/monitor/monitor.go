package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pfrederiksen/web-monitor/internal/browser"
	"github.com/pfrederiksen/web-monitor/internal/locator"
	"github.com/pfrederiksen/web-monitor/internal/logger"
	"github.com/pfrederiksen/web-monitor/internal/metrics"
	"github.com/pfrederiksen/web-monitor/internal/notify"
	"github.com/pfrederiksen/web-monitor/internal/storage"
)

const (
	// DefaultMaxFailures is the failure threshold used when Config leaves it unset.
	DefaultMaxFailures = 5
	// DefaultInterval is the poll interval used when Config leaves it unset.
	DefaultInterval = 3 * time.Minute
)

// Config is the immutable per-run configuration.
type Config struct {
	URL          string
	Locator      locator.Locator
	ExpectedText string
	Interval     time.Duration
	OKInterval   time.Duration
	// MaxFailures consecutive failed cycles trigger a session restart.
	MaxFailures int
	// ResumeState continues from the snapshot saved by a previous process
	// instead of starting with a first observation.
	ResumeState bool
}

// StateStore persists State between process runs.
type StateStore interface {
	LoadState(target string) (*storage.Snapshot, error)
	SaveState(snap *storage.Snapshot) error
}

// HistoryRecorder records every cycle.
type HistoryRecorder interface {
	Append(ctx context.Context, o storage.Observation) error
}

// Deps are the collaborators of a Monitor. Factory and Notifier are
// required; the rest may be nil.
type Deps struct {
	Factory   browser.Factory
	Notifier  notify.Notifier
	Formatter notify.Formatter
	Store     StateStore
	History   HistoryRecorder
	Metrics   *metrics.Metrics
	// OnCycle is called after every cycle, from the polling goroutine.
	OnCycle func(CycleResult)
	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// CycleResult describes one completed poll cycle.
type CycleResult struct {
	ID       string
	At       time.Time
	Result   browser.Result
	Decision Decision
	Err      error
	// Notified is the kind that was delivered successfully, if any.
	Notified notify.Kind
}

// Monitor runs the polling loop. It is not safe for concurrent use; all
// state is owned by the goroutine calling Run.
type Monitor struct {
	cfg  Config
	deps Deps

	driver   browser.Driver
	state    State
	failures int
	restarts int
}

// New creates a Monitor. No browser session is started until Start or the
// first cycle.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Factory == nil {
		return nil, errors.New("browser factory is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.NewString() }
	}
	if deps.Formatter.ExpectedText == "" {
		deps.Formatter.ExpectedText = cfg.ExpectedText
	}

	return &Monitor{
		cfg:   cfg,
		deps:  deps,
		state: State{Status: StatusUnknown},
	}, nil
}

// Target identifies the monitored element; a stored snapshot is only
// reused for the same target.
func (m *Monitor) Target() string {
	return strings.Join([]string{m.cfg.URL, m.cfg.Locator.String(), m.cfg.ExpectedText}, "|")
}

// State returns the current observation state.
func (m *Monitor) State() State {
	return m.state
}

// Failures returns the current consecutive failure count.
func (m *Monitor) Failures() int {
	return m.failures
}

// Restarts returns how many times the session has been restarted.
func (m *Monitor) Restarts() int {
	return m.restarts
}

// Start opens the first browser session. A session that cannot be
// created here is a startup error. Each process starts with a first
// observation unless ResumeState is set, in which case the saved snapshot
// for the same target is restored.
func (m *Monitor) Start(ctx context.Context) error {
	if m.cfg.ResumeState && m.deps.Store != nil {
		snap, err := m.deps.Store.LoadState(m.Target())
		if err != nil {
			logger.Warn("Could not load saved state, starting fresh", logger.Fields{"error": err.Error()})
		} else if snap != nil {
			m.state = stateFromSnapshot(snap)
			logger.Info("Restored previous state", logger.Fields{
				"status":     string(m.state.Status),
				"updated_at": snap.UpdatedAt,
			})
		}
	}

	if m.driver == nil {
		d, err := m.deps.Factory(ctx)
		if err != nil {
			return fmt.Errorf("starting browser session: %w", err)
		}
		m.driver = d
	}
	return nil
}

// Run polls until ctx is canceled. It returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	logger.Info("Monitoring started", logger.Fields{
		"url":           m.cfg.URL,
		"selector":      m.cfg.Locator.String(),
		"expected_text": m.cfg.ExpectedText,
		"interval":      m.cfg.Interval.String(),
		"notifier":      m.deps.Notifier.Name(),
	})

	for {
		m.RunOnce(ctx)

		if err := sleepCtx(ctx, m.cfg.Interval); err != nil {
			logger.Info("Monitoring stopped", nil)
			return nil
		}
	}
}

// RunOnce executes one poll cycle: fetch, evaluate, notify, persist.
func (m *Monitor) RunOnce(ctx context.Context) CycleResult {
	cycle := CycleResult{ID: m.deps.NewID(), At: m.deps.Now()}
	log := logger.Default().With(logger.Fields{"cycle": cycle.ID})

	res, err := m.fetch(ctx)
	cycle.Result = res

	switch {
	case err != nil && ctx.Err() != nil:
		cycle.Err = ctx.Err()
		cycle.Decision = Decision{Transition: TransitionError, Next: m.state}
		return cycle

	case err != nil:
		cycle.Err = err
		cycle.Decision = Decision{Transition: TransitionError, Next: m.state}
		log.Error("Page check failed", logger.Fields{"failures": m.failures + 1}, err)
		m.deps.Metrics.ObservePoll(metrics.OutcomeError, res.Duration)
		m.recordFailure(ctx, log)

	default:
		m.failures = 0
		outcome := metrics.OutcomeFound
		if !res.Found {
			outcome = metrics.OutcomeNotFound
		}
		m.deps.Metrics.ObservePoll(outcome, res.Duration)

		decision := Evaluate(m.state, Observation{Found: res.Found, Text: res.Text}, m.rules(), cycle.At)
		cycle.Decision = decision
		m.logDecision(log, decision, res)
		m.deps.Metrics.IncTransition(string(decision.Transition))

		if decision.Notify != notify.KindNone {
			if m.notify(ctx, log, decision.Notify, res.Text, cycle.At) {
				cycle.Notified = decision.Notify
			}
		}

		m.state = decision.Next
		m.persist(log)
	}

	m.deps.Metrics.SetFailures(m.failures)
	m.updateHealth(cycle)
	m.record(ctx, log, cycle)

	if m.deps.OnCycle != nil {
		m.deps.OnCycle(cycle)
	}
	return cycle
}

// Check performs one fetch and evaluates it against an empty state. It
// neither notifies nor persists anything.
func (m *Monitor) Check(ctx context.Context) (CycleResult, error) {
	cycle := CycleResult{ID: m.deps.NewID(), At: m.deps.Now()}

	res, err := m.fetch(ctx)
	if err != nil {
		cycle.Err = err
		cycle.Decision = Decision{Transition: TransitionError}
		return cycle, err
	}
	cycle.Result = res
	cycle.Decision = Evaluate(State{Status: StatusUnknown}, Observation{Found: res.Found, Text: res.Text}, m.rules(), cycle.At)
	return cycle, nil
}

// Close ends the browser session.
func (m *Monitor) Close() error {
	if m.driver == nil {
		return nil
	}
	err := m.driver.Close()
	m.driver = nil
	return err
}

func (m *Monitor) rules() Rules {
	return Rules{ExpectedText: m.cfg.ExpectedText, OKInterval: m.cfg.OKInterval}
}

// fetch extracts the element, creating a session first if none is open.
func (m *Monitor) fetch(ctx context.Context) (browser.Result, error) {
	if m.driver == nil {
		d, err := m.deps.Factory(ctx)
		if err != nil {
			return browser.Result{}, fmt.Errorf("creating browser session: %w", err)
		}
		m.driver = d
	}
	return m.driver.Extract(ctx, m.cfg.Locator, m.cfg.ExpectedText)
}

// recordFailure counts a failed cycle and restarts the session once the
// threshold is reached.
func (m *Monitor) recordFailure(ctx context.Context, log *logger.Logger) {
	m.failures++
	if m.failures < m.cfg.MaxFailures {
		return
	}

	log.Warn("Too many consecutive failures, restarting browser session", logger.Fields{
		"failures": m.failures,
	})
	m.restart(ctx, log)
	m.failures = 0
}

func (m *Monitor) restart(ctx context.Context, log *logger.Logger) {
	m.restarts++
	m.deps.Metrics.IncRestart()

	if m.driver != nil {
		if err := m.driver.Close(); err != nil {
			log.Warn("Error closing browser session", logger.Fields{"error": err.Error()})
		}
		m.driver = nil
	}

	d, err := m.deps.Factory(ctx)
	if err != nil {
		log.Error("Could not restart browser session", nil, err)
		return
	}
	m.driver = d
	log.Info("Browser session restarted", nil)
}

func (m *Monitor) notify(ctx context.Context, log *logger.Logger, kind notify.Kind, text string, at time.Time) bool {
	msg := m.deps.Formatter.Format(kind, text, at)
	if msg == "" {
		return false
	}

	if err := m.deps.Notifier.Send(ctx, msg); err != nil {
		log.Error("Failed to send notification", logger.Fields{
			"kind":     string(kind),
			"notifier": m.deps.Notifier.Name(),
		}, err)
		m.deps.Metrics.IncNotification(string(kind), false)
		return false
	}

	log.Info("Notification sent", logger.Fields{"kind": string(kind), "notifier": m.deps.Notifier.Name()})
	m.deps.Metrics.IncNotification(string(kind), true)
	return true
}

func (m *Monitor) persist(log *logger.Logger) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SaveState(m.state.snapshot(m.Target())); err != nil {
		log.Warn("Could not save state", logger.Fields{"error": err.Error()})
	}
}

func (m *Monitor) record(ctx context.Context, log *logger.Logger, cycle CycleResult) {
	if m.deps.History == nil {
		return
	}

	o := storage.Observation{
		CycleID:    cycle.ID,
		At:         cycle.At,
		Found:      cycle.Result.Found,
		Text:       cycle.Result.Text,
		Transition: string(cycle.Decision.Transition),
		Notified:   string(cycle.Notified),
		Duration:   cycle.Result.Duration,
	}
	if cycle.Err != nil {
		o.Error = cycle.Err.Error()
	}
	if err := m.deps.History.Append(ctx, o); err != nil {
		log.Warn("Could not record observation", logger.Fields{"error": err.Error()})
	}
}

func (m *Monitor) updateHealth(cycle CycleResult) {
	status := metrics.StatusOK
	if m.failures > 0 {
		status = metrics.StatusFailing
	}
	m.deps.Metrics.SetHealth(metrics.Health{
		Status:              status,
		URL:                 m.cfg.URL,
		LastCycle:           cycle.At,
		LastTransition:      string(cycle.Decision.Transition),
		Found:               cycle.Result.Found,
		ConsecutiveFailures: m.failures,
	})
}

func (m *Monitor) logDecision(log *logger.Logger, d Decision, res browser.Result) {
	fields := logger.Fields{
		"transition": string(d.Transition),
		"found":      res.Found,
		"duration":   res.Duration.String(),
	}
	if res.Found {
		fields["text"] = notify.Truncate(res.Text, 50)
	}

	switch d.Transition {
	case TransitionDisappeared:
		log.Warn("Element is missing from the page", fields)
	case TransitionChanged:
		if m.cfg.ExpectedText != "" {
			fields["expected"] = m.cfg.ExpectedText
			log.Warn("Element found but text does not match", fields)
		} else {
			if m.state.PreviousText != nil {
				fields["was"] = notify.Truncate(*m.state.PreviousText, 50)
			}
			log.Warn("Element text changed", fields)
		}
	case TransitionAppeared:
		log.Info("Element found again", fields)
	case TransitionInitial:
		if d.Next.Status == StatusMismatch {
			fields["expected"] = m.cfg.ExpectedText
			log.Warn("First check, element text does not match", fields)
		} else {
			log.Info("First check, element in place", fields)
		}
	default:
		if res.Found {
			log.Info("Element in place", fields)
		} else {
			log.Debug("Element still missing", fields)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
