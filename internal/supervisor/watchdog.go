package supervisor

import (
	"dcaengine/internal/notify"
)

// Watchdog performs the single check spec.md §4.F describes: invoked by an
// external scheduler, it restarts the Live Event Loop if its PID is
// missing or dead and the maintenance sentinel is absent, alerting on
// restart; if the sentinel is present it does nothing.
type Watchdog struct {
	sup      *Supervisor
	notifier *notify.Notifier
}

// NewWatchdog builds a Watchdog over an existing Supervisor.
func NewWatchdog(sup *Supervisor, notifier *notify.Notifier) *Watchdog {
	return &Watchdog{sup: sup, notifier: notifier}
}

// Check runs one watchdog pass and reports whether it restarted the
// process.
func (w *Watchdog) Check() (restarted bool, err error) {
	if w.sup.InMaintenance() {
		return false, nil
	}

	running, _, err := w.sup.Status()
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}

	if err := w.sup.Start(); err != nil {
		return false, err
	}

	if w.notifier != nil {
		w.notifier.Notify(notify.Event{
			Kind:    "watchdog_restart",
			Message: "live event loop was not running; watchdog restarted it",
		})
	}
	return true, nil
}
