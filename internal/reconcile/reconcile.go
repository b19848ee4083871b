// Package reconcile implements the four periodic reconciliation workers
// (spec.md §4.E): stale-order canceller, consistency checker, cooldown
// releaser, and position synchronizer. Each is independently idempotent —
// running it twice back-to-back with no intervening events is a no-op on
// the second run (spec.md §8).
//
// Grounded in the teacher's risk.Reconciler
// (market_maker/internal/risk/reconciler.go) and its legacy counterpart
// (archive/legacy/safety/reconciler.go): a per-worker struct holding its
// dependencies and logger, a single RunOnce pass that reads fresh state
// every invocation, and a scheduler that drives all workers on independent
// periodic ticks.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"dcaengine/internal/core"
	"dcaengine/internal/notify"
)

// Report summarizes one worker's pass, surfaced in logs and, in dry-run
// mode, as the record of what would have changed.
type Report struct {
	Worker    string
	DryRun    bool
	Inspected int
	Changed   int
	Notes     []string
}

func (r *Report) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Worker is the shared contract every reconciliation job implements.
type Worker interface {
	Name() string
	RunOnce(ctx context.Context, dryRun bool) (*Report, error)
}

// deps bundles the store/broker/logger/clock/notifier every worker needs;
// each worker embeds it rather than repeating the same fields. notifier may
// be nil — workers must treat that as "alerting disabled", never panic.
type deps struct {
	store    core.CycleStore
	broker   core.BrokerGateway
	logger   core.ILogger
	now      func() time.Time
	notifier *notify.Notifier
}

func newDeps(store core.CycleStore, broker core.BrokerGateway, logger core.ILogger, notifier *notify.Notifier) deps {
	return deps{store: store, broker: broker, logger: logger, now: time.Now, notifier: notifier}
}

// alert emits a high-priority notification for a ProtocolInvariantViolation
// or other condition spec.md §7 says must reach an operator, tolerating a
// nil notifier (alerting is optional ambient infrastructure).
func (d deps) alert(kind, message string, assetID, cycleID int64) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(notify.Event{Kind: kind, AssetID: assetID, CycleID: cycleID, Message: message})
}
