package monitor

import (
	"strings"
	"time"

	"github.com/pfrederiksen/web-monitor/internal/notify"
	"github.com/pfrederiksen/web-monitor/internal/storage"
)

// Status is the presence of the element as of the last cycle.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusPresent  Status = "present"
	StatusAbsent   Status = "absent"
	StatusMismatch Status = "mismatch"
)

// Transition classifies the change between two consecutive observations.
type Transition string

const (
	TransitionInitial     Transition = "initial"
	TransitionUnchanged   Transition = "unchanged"
	TransitionChanged     Transition = "changed"
	TransitionAppeared    Transition = "appeared"
	TransitionDisappeared Transition = "disappeared"
	// TransitionError marks a cycle that produced no observation.
	TransitionError Transition = "error"
)

// State is what the loop remembers between cycles.
type State struct {
	PreviousText *string
	Status       Status
	// LastMismatch is the last non-matching text already reported.
	LastMismatch string
	LastOKAt     time.Time
}

// Observation is the result of one successful extraction.
type Observation struct {
	Found bool
	Text  string
}

// Rules configure Evaluate.
type Rules struct {
	// ExpectedText, when set, must be contained (case-insensitively) in
	// the element text for the page to count as OK.
	ExpectedText string
	// OKInterval spaces routine "still OK" notifications.
	OKInterval time.Duration
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Transition Transition
	Notify     notify.Kind
	Next       State
}

// Evaluate compares obs with prev and decides the transition, the
// notification to send (if any) and the next state.
func Evaluate(prev State, obs Observation, rules Rules, now time.Time) Decision {
	if prev.Status == "" {
		prev.Status = StatusUnknown
	}
	next := prev

	if !obs.Found {
		next.Status = StatusAbsent
		if prev.Status == StatusAbsent {
			return Decision{Transition: TransitionUnchanged, Next: next}
		}
		return Decision{Transition: TransitionDisappeared, Notify: notify.KindMissing, Next: next}
	}

	text := obs.Text
	next.PreviousText = &text

	if !Acceptable(text, rules.ExpectedText) {
		next.Status = StatusMismatch
		if prev.Status == StatusMismatch && prev.LastMismatch == text {
			return Decision{Transition: TransitionUnchanged, Next: next}
		}
		next.LastMismatch = text
		// Nothing to compare against yet, so there is no change to report.
		if prev.Status == StatusUnknown {
			return Decision{Transition: TransitionInitial, Next: next}
		}
		return Decision{Transition: TransitionChanged, Notify: notify.KindChanged, Next: next}
	}

	next.Status = StatusPresent
	next.LastMismatch = ""

	switch prev.Status {
	case StatusUnknown:
		next.LastOKAt = now
		return Decision{Transition: TransitionInitial, Notify: notify.KindOK, Next: next}
	case StatusAbsent, StatusMismatch:
		next.LastOKAt = now
		return Decision{Transition: TransitionAppeared, Notify: notify.KindFoundAgain, Next: next}
	}

	if rules.ExpectedText == "" && prev.PreviousText != nil && *prev.PreviousText != text {
		return Decision{Transition: TransitionChanged, Notify: notify.KindChanged, Next: next}
	}

	if now.Sub(prev.LastOKAt) >= rules.OKInterval {
		next.LastOKAt = now
		return Decision{Transition: TransitionUnchanged, Notify: notify.KindOK, Next: next}
	}
	return Decision{Transition: TransitionUnchanged, Next: next}
}

// Acceptable reports whether text satisfies the expected-text filter.
func Acceptable(text, expected string) bool {
	if expected == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(expected))
}

func (s State) snapshot(target string) *storage.Snapshot {
	return &storage.Snapshot{
		Target:       target,
		PreviousText: s.PreviousText,
		Status:       string(s.Status),
		LastMismatch: s.LastMismatch,
		LastOKAt:     s.LastOKAt,
	}
}

func stateFromSnapshot(snap *storage.Snapshot) State {
	if snap == nil {
		return State{Status: StatusUnknown}
	}
	st := State{
		PreviousText: snap.PreviousText,
		Status:       Status(snap.Status),
		LastMismatch: snap.LastMismatch,
		LastOKAt:     snap.LastOKAt,
	}
	switch st.Status {
	case StatusPresent, StatusAbsent, StatusMismatch:
	default:
		st.Status = StatusUnknown
	}
	return st
}
