package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pfrederiksen/web-monitor/internal/config"
	"github.com/pfrederiksen/web-monitor/internal/monitor"
	"github.com/pfrederiksen/web-monitor/internal/notify"
	"github.com/pfrederiksen/web-monitor/internal/storage"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// CheckResult is the outcome of the check command.
type CheckResult struct {
	CheckedAt    time.Time `json:"checked_at"`
	URL          string    `json:"url"`
	Selector     string    `json:"selector"`
	ExpectedText string    `json:"expected_text,omitempty"`
	Found        bool      `json:"found"`
	Text         string    `json:"text,omitempty"`
	Acceptable   bool      `json:"acceptable"`
	DurationMS   int64     `json:"duration_ms"`
}

func newCheckResult(cfg *config.Config, cycle monitor.CycleResult) *CheckResult {
	return &CheckResult{
		CheckedAt:    cycle.At,
		URL:          cfg.URL,
		Selector:     cfg.Locator().String(),
		ExpectedText: cfg.ExpectedText,
		Found:        cycle.Result.Found,
		Text:         cycle.Result.Text,
		Acceptable:   cycle.Result.Found && monitor.Acceptable(cycle.Result.Text, cfg.ExpectedText),
		DurationMS:   cycle.Result.Duration.Milliseconds(),
	}
}

// WriteCheck writes a check result in the specified format
func WriteCheck(w io.Writer, result *CheckResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeCheckText(w, result)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteHistory writes recorded observations, newest first.
func WriteHistory(w io.Writer, obs []storage.Observation, format OutputFormat) error {
	switch format {
	case FormatJSON:
		if obs == nil {
			obs = []storage.Observation{}
		}
		return writeJSON(w, obs)
	case FormatText:
		return writeHistoryText(w, obs)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeCheckText(w io.Writer, result *CheckResult) error {
	fmt.Fprintf(w, "URL:      %s\n", result.URL)
	fmt.Fprintf(w, "Selector: %s\n", result.Selector)
	if result.ExpectedText != "" {
		fmt.Fprintf(w, "Expected: %s\n", result.ExpectedText)
	}

	if !result.Found {
		fmt.Fprintln(w, "Element not found on the page")
		return nil
	}

	fmt.Fprintf(w, "Text:     %s\n", result.Text)
	if result.ExpectedText != "" {
		if result.Acceptable {
			fmt.Fprintln(w, "Status:   expected text present")
		} else {
			fmt.Fprintln(w, "Status:   expected text missing")
		}
	}
	return nil
}

func writeHistoryText(w io.Writer, obs []storage.Observation) error {
	if len(obs) == 0 {
		fmt.Fprintln(w, "No observations recorded.")
		return nil
	}

	for _, o := range obs {
		status := "found"
		switch {
		case o.Error != "":
			status = "error"
		case !o.Found:
			status = "missing"
		}

		fmt.Fprintf(w, "%s  %-7s  %-11s", o.At.Local().Format("2006-01-02 15:04:05"), status, o.Transition)
		if o.Notified != "" {
			fmt.Fprintf(w, "  [%s]", o.Notified)
		}
		switch {
		case o.Error != "":
			fmt.Fprintf(w, "  %s", notify.Truncate(o.Error, 80))
		case o.Text != "":
			fmt.Fprintf(w, "  %q", notify.Truncate(o.Text, 80))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nTotal: %d observations\n", len(obs))
	return nil
}
