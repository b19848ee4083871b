// Package notify implements the notification side-channel spec.md §9
// resolves as a pure side-channel: state transitions may emit events here
// without the core depending on delivery succeeding. The teacher and the
// rest of the pack push Discord/Slack messages inline with trading
// decisions (archive/legacy's notifier); this implementation detaches that
// call onto its own worker pool so a slow or failing webhook never
// blocks the event loop, per spec.md §9's "pure side-channel" resolution.
//
// Standard-library net/http is used deliberately here rather than a
// third-party webhook client: delivery is a single unauthenticated POST of
// a JSON body to an operator-supplied URL, which the pack's examples
// handle with the stdlib client too (see DESIGN.md).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dcaengine/internal/core"
	"dcaengine/pkg/concurrency"
)

// Event is the payload delivered to the configured webhook.
type Event struct {
	Kind      string                 `json:"kind"`
	AssetID   int64                  `json:"asset_id,omitempty"`
	CycleID   int64                  `json:"cycle_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier posts Event payloads to a webhook URL asynchronously. A nil or
// empty webhookURL makes every Notify call a silent no-op, so callers
// never need to check whether notifications are configured.
type Notifier struct {
	webhookURL string
	client     *http.Client
	pool       *concurrency.WorkerPool
	logger     core.ILogger
}

// New creates a Notifier. webhookURL may be empty to disable delivery.
func New(webhookURL string, logger core.ILogger) *Notifier {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "notify",
		MaxWorkers:  2,
		MaxCapacity: 64,
		NonBlocking: true,
	}, logger)

	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		pool:       pool,
		logger:     logger.WithField("component", "notify"),
	}
}

// Notify enqueues an Event for best-effort asynchronous delivery. It never
// blocks the caller and never returns a delivery error — failures are
// logged only, matching the "pure side-channel" contract.
func (n *Notifier) Notify(event Event) {
	if n.webhookURL == "" {
		return
	}
	event.Timestamp = time.Now()

	if err := n.pool.Submit(func() { n.deliver(event) }); err != nil {
		n.logger.Warn("notification dropped, pool saturated", "kind", event.Kind, "error", err)
	}
}

func (n *Notifier) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal notification", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed", "kind", event.Kind, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("notification endpoint rejected delivery",
			"kind", event.Kind, "status", fmt.Sprintf("%d", resp.StatusCode))
	}
}

// Close stops the underlying worker pool, draining queued deliveries.
func (n *Notifier) Close() { n.pool.Stop() }
