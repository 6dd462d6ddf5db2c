package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pfrederiksen/web-monitor/internal/browser"
	"github.com/pfrederiksen/web-monitor/internal/locator"
	"github.com/pfrederiksen/web-monitor/internal/metrics"
	"github.com/pfrederiksen/web-monitor/internal/notify"
	"github.com/pfrederiksen/web-monitor/internal/storage"
)

// step is one scripted driver response.
type step struct {
	found bool
	text  string
	err   error
}

func found(text string) step { return step{found: true, text: text} }
func missing() step          { return step{} }
func failure() step          { return step{err: errors.New("net::ERR_CONNECTION_RESET")} }

// fakeBrowser hands out drivers that replay a shared script.
type fakeBrowser struct {
	mu         sync.Mutex
	script     []step
	pos        int
	created    int
	closed     int
	factoryErr error
	searchText string
}

func (b *fakeBrowser) factory(ctx context.Context) (browser.Driver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.factoryErr != nil {
		return nil, b.factoryErr
	}
	b.created++
	return &fakeDriver{b: b}, nil
}

type fakeDriver struct {
	b *fakeBrowser
}

func (d *fakeDriver) Extract(ctx context.Context, loc locator.Locator, searchText string) (browser.Result, error) {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	d.b.searchText = searchText
	if d.b.pos >= len(d.b.script) {
		return browser.Result{}, errors.New("script exhausted")
	}
	s := d.b.script[d.b.pos]
	d.b.pos++
	if s.err != nil {
		return browser.Result{}, s.err
	}
	return browser.Result{Found: s.found, Text: s.text, Duration: 10 * time.Millisecond}, nil
}

func (d *fakeDriver) Close() error {
	d.b.mu.Lock()
	d.b.closed++
	d.b.mu.Unlock()
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type memStore struct {
	snap  *storage.Snapshot
	saves int
}

func (s *memStore) LoadState(target string) (*storage.Snapshot, error) {
	if s.snap == nil || s.snap.Target != target {
		return nil, nil
	}
	return s.snap, nil
}

func (s *memStore) SaveState(snap *storage.Snapshot) error {
	s.snap = snap
	s.saves++
	return nil
}

type memHistory struct {
	records []storage.Observation
}

func (h *memHistory) Append(ctx context.Context, o storage.Observation) error {
	h.records = append(h.records, o)
	return nil
}

// clock advances by step on every call.
type clock struct {
	now  time.Time
	step time.Duration
}

func (c *clock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type harness struct {
	m        *Monitor
	browser  *fakeBrowser
	notifier *fakeNotifier
	store    *memStore
	history  *memHistory
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, cfg Config, script ...step) *harness {
	t.Helper()
	h := &harness{
		browser:  &fakeBrowser{script: script},
		notifier: &fakeNotifier{},
		store:    &memStore{},
		history:  &memHistory{},
		metrics:  metrics.New(),
	}
	if cfg.URL == "" {
		cfg.URL = "https://example.com/tours"
	}
	if cfg.Locator.Kind == "" {
		cfg.Locator = locator.MustParse("#status")
	}
	if cfg.OKInterval == 0 {
		cfg.OKInterval = time.Hour
	}

	c := &clock{now: t0, step: 3 * time.Minute}
	ids := 0
	m, err := New(cfg, Deps{
		Factory:  h.browser.factory,
		Notifier: h.notifier,
		Store:    h.store,
		History:  h.history,
		Metrics:  h.metrics,
		Now:      c.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("cycle-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.m = m
	return h
}

func (h *harness) cycles(n int) []CycleResult {
	out := make([]CycleResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.m.RunOnce(context.Background()))
	}
	return out
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{Notifier: &fakeNotifier{}}); err == nil {
		t.Error("New() without factory should fail")
	}
	b := &fakeBrowser{}
	if _, err := New(Config{}, Deps{Factory: b.factory}); err == nil {
		t.Error("New() without notifier should fail")
	}
}

func TestNew_DefaultsInterval(t *testing.T) {
	b := &fakeBrowser{}
	m, err := New(Config{URL: "https://example.com"}, Deps{Factory: b.factory, Notifier: &fakeNotifier{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", m.cfg.Interval, DefaultInterval)
	}
	if m.cfg.MaxFailures != DefaultMaxFailures {
		t.Errorf("MaxFailures = %d, want %d", m.cfg.MaxFailures, DefaultMaxFailures)
	}
}

func TestRunOnce_FirstMismatchSendsNothing(t *testing.T) {
	h := newHarness(t, Config{ExpectedText: "Available"}, found("Sold out"), found("Sold out"))
	h.cycles(2)

	if msgs := h.notifier.messages(); len(msgs) != 0 {
		t.Errorf("messages = %q, want none for a mismatch seen from the start", msgs)
	}
	if h.m.State().Status != StatusMismatch {
		t.Errorf("Status = %q, want mismatch", h.m.State().Status)
	}
}

func TestRunOnce_FirstObservationSendsOK(t *testing.T) {
	h := newHarness(t, Config{}, found("Open for booking"))

	c := h.m.RunOnce(context.Background())

	if c.Decision.Transition != TransitionInitial {
		t.Errorf("Transition = %q, want initial", c.Decision.Transition)
	}
	msgs := h.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Element in place") {
		t.Fatalf("messages = %q, want one OK message", msgs)
	}
	if strings.Contains(msgs[0], "changed") {
		t.Error("first observation must not report a change")
	}
	if c.Notified != notify.KindOK {
		t.Errorf("Notified = %q, want ok", c.Notified)
	}
	if h.browser.created != 1 {
		t.Errorf("sessions created = %d, want 1 (lazy)", h.browser.created)
	}
}

func TestRunOnce_IdenticalTextsDoNotNotify(t *testing.T) {
	h := newHarness(t, Config{}, found("Open"), found("Open"), found("Open"), found("Open"))
	h.cycles(4)

	msgs := h.notifier.messages()
	if len(msgs) != 1 {
		t.Errorf("messages = %d, want only the initial OK", len(msgs))
	}
}

func TestRunOnce_ChangeDisappearAndReturn(t *testing.T) {
	h := newHarness(t, Config{},
		found("Open"),
		found("Sold out"),
		missing(),
		missing(),
		found("Open"),
	)
	cycles := h.cycles(5)

	want := []Transition{TransitionInitial, TransitionChanged, TransitionDisappeared, TransitionUnchanged, TransitionAppeared}
	for i, c := range cycles {
		if c.Decision.Transition != want[i] {
			t.Errorf("cycle %d transition = %q, want %q", i, c.Decision.Transition, want[i])
		}
	}

	msgs := h.notifier.messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4: %q", len(msgs), msgs)
	}
	for i, marker := range []string{"Element in place", "Element changed", "Element missing", "Element found again"} {
		if !strings.Contains(msgs[i], marker) {
			t.Errorf("message %d = %q, want %q", i, msgs[i], marker)
		}
	}
}

func TestRunOnce_ExpectedTextFoundAgainOnce(t *testing.T) {
	h := newHarness(t, Config{ExpectedText: "Christmas 2026", Locator: locator.MustParse("auto")},
		found("Christmas 2026"),
		missing(),
		found("Christmas 2026 tours"),
		found("Christmas 2026 tours"),
		found("Christmas 2026 tours"),
	)
	h.cycles(5)

	var foundAgain int
	for _, m := range h.notifier.messages() {
		if strings.Contains(m, "found again") {
			foundAgain++
		}
	}
	if foundAgain != 1 {
		t.Errorf("found again notifications = %d, want 1", foundAgain)
	}
	if h.browser.searchText != "Christmas 2026" {
		t.Errorf("driver search text = %q, want expected text", h.browser.searchText)
	}
}

func TestRunOnce_MismatchReportedOnce(t *testing.T) {
	h := newHarness(t, Config{ExpectedText: "Christmas 2026"},
		found("Christmas 2026"),
		found("Sold out"),
		found("Sold out"),
		found("Sold out"),
	)
	h.cycles(4)

	var changed int
	for _, m := range h.notifier.messages() {
		if strings.Contains(m, "Element changed") {
			changed++
		}
	}
	if changed != 1 {
		t.Errorf("changed notifications = %d, want 1", changed)
	}
}

func TestRunOnce_FailuresTriggerSingleRestart(t *testing.T) {
	script := []step{found("Open")}
	for i := 0; i < 6; i++ {
		script = append(script, failure())
	}
	h := newHarness(t, Config{MaxFailures: 5}, script...)

	h.cycles(1)
	if h.browser.created != 1 {
		t.Fatalf("sessions created = %d, want 1", h.browser.created)
	}

	for i := 1; i <= 4; i++ {
		h.m.RunOnce(context.Background())
		if h.m.Failures() != i {
			t.Errorf("after %d failures counter = %d", i, h.m.Failures())
		}
	}
	if h.m.Restarts() != 0 {
		t.Fatalf("restarted before threshold")
	}

	h.m.RunOnce(context.Background())
	if h.m.Restarts() != 1 {
		t.Errorf("restarts = %d, want 1 at threshold", h.m.Restarts())
	}
	if h.m.Failures() != 0 {
		t.Errorf("failure counter = %d, want reset to 0", h.m.Failures())
	}
	if h.browser.created != 2 || h.browser.closed != 1 {
		t.Errorf("created/closed = %d/%d, want 2/1", h.browser.created, h.browser.closed)
	}

	h.m.RunOnce(context.Background())
	if h.m.Restarts() != 1 {
		t.Errorf("restarts = %d, want still 1", h.m.Restarts())
	}
	if h.m.Failures() != 1 {
		t.Errorf("failure counter = %d, want 1", h.m.Failures())
	}
}

func TestRunOnce_SuccessResetsFailures(t *testing.T) {
	h := newHarness(t, Config{MaxFailures: 3}, failure(), failure(), found("Open"), failure(), failure(), missing())
	h.cycles(6)

	if h.m.Restarts() != 0 {
		t.Errorf("restarts = %d, want 0", h.m.Restarts())
	}
	if h.m.Failures() != 0 {
		t.Errorf("failures = %d, want 0", h.m.Failures())
	}
}

func TestRunOnce_FailedRestartRetriesLazily(t *testing.T) {
	h := newHarness(t, Config{MaxFailures: 2}, failure(), failure(), found("Open"))

	h.cycles(1)
	h.browser.factoryErr = errors.New("chrome not found")
	h.m.RunOnce(context.Background())

	if h.m.Restarts() != 1 {
		t.Fatalf("restarts = %d, want 1", h.m.Restarts())
	}

	// Next cycle cannot create a session either.
	c := h.m.RunOnce(context.Background())
	if c.Err == nil || !strings.Contains(c.Err.Error(), "creating browser session") {
		t.Errorf("Err = %v, want session creation error", c.Err)
	}

	h.browser.factoryErr = nil
	c = h.m.RunOnce(context.Background())
	if c.Err != nil {
		t.Fatalf("Err = %v after factory recovered", c.Err)
	}
	if c.Decision.Transition != TransitionInitial {
		t.Errorf("Transition = %q, want initial", c.Decision.Transition)
	}
}

func TestRunOnce_NotifierErrorIsNotFatal(t *testing.T) {
	h := newHarness(t, Config{}, found("Open"), found("Closed"))
	h.notifier.err = errors.New("telegram down")

	cycles := h.cycles(2)
	for i, c := range cycles {
		if c.Err != nil {
			t.Errorf("cycle %d Err = %v, notification errors must not fail the cycle", i, c.Err)
		}
		if c.Notified != notify.KindNone {
			t.Errorf("cycle %d Notified = %q, want none", i, c.Notified)
		}
	}
	if cycles[1].Decision.Transition != TransitionChanged {
		t.Errorf("state did not advance: %q", cycles[1].Decision.Transition)
	}
}

func TestRunOnce_PersistsAndRecords(t *testing.T) {
	h := newHarness(t, Config{}, found("Open"), failure())
	h.cycles(2)

	if h.store.saves != 1 {
		t.Errorf("saves = %d, want 1 (failed cycles do not persist)", h.store.saves)
	}
	if h.store.snap == nil || h.store.snap.Status != string(StatusPresent) {
		t.Errorf("snapshot = %+v", h.store.snap)
	}

	if len(h.history.records) != 2 {
		t.Fatalf("history records = %d, want 2", len(h.history.records))
	}
	first, second := h.history.records[0], h.history.records[1]
	if first.CycleID != "cycle-1" || first.Transition != "initial" || first.Notified != "ok" || !first.Found {
		t.Errorf("first record = %+v", first)
	}
	if second.Transition != "error" || second.Error == "" {
		t.Errorf("second record = %+v", second)
	}

	health := h.metrics.CurrentHealth()
	if health.Status != metrics.StatusFailing || health.ConsecutiveFailures != 1 {
		t.Errorf("health = %+v", health)
	}
}

func TestStart_NewProcessStartsFresh(t *testing.T) {
	tests := []struct {
		name     string
		pageText string
	}{
		{name: "same text as before", pageText: "Open"},
		{name: "text changed while stopped", pageText: "Closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, found(tt.pageText))
			h.store.snap = &storage.Snapshot{
				Target:       h.m.Target(),
				PreviousText: textPtr("Open"),
				Status:       string(StatusPresent),
				LastOKAt:     t0,
			}

			if err := h.m.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if h.browser.created != 1 {
				t.Errorf("Start() should open a session, created = %d", h.browser.created)
			}
			if h.m.State().Status != StatusUnknown {
				t.Errorf("Status after Start() = %q, want unknown", h.m.State().Status)
			}

			c := h.m.RunOnce(context.Background())
			if c.Decision.Transition != TransitionInitial || c.Notified != notify.KindOK {
				t.Errorf("first cycle = %q/%q, want initial/ok", c.Decision.Transition, c.Notified)
			}
			msgs := h.notifier.messages()
			if len(msgs) != 1 || strings.Contains(msgs[0], "changed") {
				t.Errorf("messages = %q, want one OK message", msgs)
			}
			// The snapshot is still written for reporting.
			if h.store.saves != 1 {
				t.Errorf("saves = %d, want 1", h.store.saves)
			}
		})
	}
}

func TestStart_ResumeStateRestoresSnapshot(t *testing.T) {
	h := newHarness(t, Config{ResumeState: true}, found("Open"))
	h.store.snap = &storage.Snapshot{
		Target:       h.m.Target(),
		PreviousText: textPtr("Open"),
		Status:       string(StatusPresent),
		LastOKAt:     t0,
	}

	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c := h.m.RunOnce(context.Background())
	if c.Decision.Transition != TransitionUnchanged {
		t.Errorf("Transition = %q, want unchanged after resume", c.Decision.Transition)
	}
	if len(h.notifier.messages()) != 0 {
		t.Errorf("resumed state should not re-announce: %q", h.notifier.messages())
	}
}

func TestStart_ResumeIgnoresOtherTarget(t *testing.T) {
	h := newHarness(t, Config{ResumeState: true}, found("Open"))
	h.store.snap = &storage.Snapshot{Target: "https://other.example|#x|", Status: string(StatusPresent)}

	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.m.State().Status != StatusUnknown {
		t.Errorf("Status = %q, want unknown", h.m.State().Status)
	}
}

func TestStart_DriverUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	h.browser.factoryErr = errors.New("chrome not found")

	if err := h.m.Start(context.Background()); err == nil {
		t.Error("Start() expected error when the driver cannot start")
	}
}

func TestCheck_DoesNotNotifyOrPersist(t *testing.T) {
	h := newHarness(t, Config{}, found("Open"))

	c, err := h.m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !c.Result.Found || c.Decision.Transition != TransitionInitial {
		t.Errorf("Check() = %+v", c)
	}
	if len(h.notifier.messages()) != 0 || h.store.saves != 0 || len(h.history.records) != 0 {
		t.Error("Check() must not notify, persist or record")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b := &fakeBrowser{script: []step{found("Open"), found("Open"), found("Open"), found("Open")}}
	n := &fakeNotifier{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int
	m, err := New(Config{
		URL:        "https://example.com",
		Locator:    locator.MustParse("#status"),
		Interval:   time.Millisecond,
		OKInterval: time.Hour,
	}, Deps{
		Factory:  b.factory,
		Notifier: n,
		OnCycle: func(c CycleResult) {
			seen++
			if seen == 3 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	if seen != 3 {
		t.Errorf("cycles = %d, want 3", seen)
	}
	if len(n.messages()) != 1 {
		t.Errorf("messages = %d, want 1", len(n.messages()))
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if b.closed != 1 {
		t.Errorf("driver closed %d times, want 1", b.closed)
	}
}
