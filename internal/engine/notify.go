package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"flowd/internal/logging"
)

// Sender delivers an alert to an external notification collaborator.
type Sender interface {
	Send(ctx context.Context, channels, recipients []string, payload map[string]any) error
}

// HTTPSender posts alerts to a notification gateway.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender creates a new HTTPSender.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts one alert.
func (s *HTTPSender) Send(ctx context.Context, channels, recipients []string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"channels":   channels,
		"recipients": recipients,
		"payload":    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/send", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach notification gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification gateway returned %d", resp.StatusCode)
	}
	return nil
}

// escalationChannel is the channel escalations go out on when a step's
// failure demands a human operator.
const escalationChannel = "escalation"

// deliveryRetries bounds redelivery of a single alert through a flaky
// channel; every attempt reuses the same idempotency key.
const deliveryRetries = 3

// Dispatcher sends escalations and notifications exactly once per
// (runID, stepID, attempts) key, so retried delivery never double-alerts
// a human operator. Delivery failures are logged, never fatal to a run.
type Dispatcher struct {
	sender  Sender
	logger  *logging.Logger
	metrics *Metrics

	mu        sync.Mutex
	delivered map[string]bool
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(sender Sender, logger *logging.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		logger:    logger,
		metrics:   metrics,
		delivered: make(map[string]bool),
	}
}

// Notify dispatches a declared notification for a terminally failed step.
func (d *Dispatcher) Notify(ctx context.Context, runID, stepID string, attempts int, channels, recipients []string, payload map[string]any) {
	key := fmt.Sprintf("notify/%s/%s/%d", runID, stepID, attempts)
	d.dispatch(ctx, key, channels, recipients, payload)
}

// Escalate raises an operator escalation for an unresolved step failure.
func (d *Dispatcher) Escalate(ctx context.Context, runID, stepID string, attempts int, reason string) {
	key := fmt.Sprintf("escalate/%s/%s/%d", runID, stepID, attempts)
	sent := d.dispatch(ctx, key, []string{escalationChannel}, nil, map[string]any{
		"run_id":  runID,
		"step_id": stepID,
		"reason":  reason,
	})
	if sent {
		d.metrics.AddEscalation(ctx)
	}
}

// dispatch delivers once per key, retrying transient channel failures
// under the same key. Returns whether a delivery happened.
func (d *Dispatcher) dispatch(ctx context.Context, key string, channels, recipients []string, payload map[string]any) bool {
	d.mu.Lock()
	if d.delivered[key] {
		d.mu.Unlock()
		return false
	}
	// Claim the key before releasing the lock so a concurrent duplicate
	// cannot double-send while delivery is in flight.
	d.delivered[key] = true
	d.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= deliveryRetries; attempt++ {
		if lastErr = d.sender.Send(ctx, channels, recipients, payload); lastErr == nil {
			return true
		}
		d.logger.Warn("alert delivery failed", "key", key, "attempt", attempt, "error", lastErr)
	}
	d.logger.Error("alert dropped after redelivery attempts", "key", key, "error", lastErr)
	return true
}
