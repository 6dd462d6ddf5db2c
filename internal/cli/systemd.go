package cli

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/pfrederiksen/web-monitor/internal/logger"
)

// systemdNotifier reports service state to systemd. Outside a
// Type=notify unit every call is a no-op.
type systemdNotifier struct {
	watchdog bool
}

func newSystemd() *systemdNotifier {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("Reading systemd watchdog settings failed", logger.Fields{"error": err.Error()})
	}
	if interval > 0 {
		logger.Debug("systemd watchdog enabled", logger.Fields{"interval": interval.String()})
	}
	return &systemdNotifier{watchdog: interval > 0}
}

func (s *systemdNotifier) ready() {
	s.notify(daemon.SdNotifyReady)
}

func (s *systemdNotifier) stopping() {
	s.notify(daemon.SdNotifyStopping)
}

// alive pings the watchdog after each poll cycle.
func (s *systemdNotifier) alive() {
	if s.watchdog {
		s.notify(daemon.SdNotifyWatchdog)
	}
}

func (s *systemdNotifier) notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("systemd notify failed", logger.Fields{"state": state, "error": err.Error()})
	}
}
