package notify

import (
	"context"
	"fmt"
	"log/slog"

	"smsrelay/internal/poll"
	"smsrelay/internal/types"
)

// Dispatcher turns a cycle outcome into alerts and fans them out to the
// configured channels. With no channels configured, alerts are logged only.
type Dispatcher struct {
	channels []Channel
	limiter  *RateLimiter
	logger   *slog.Logger
}

// DispatcherConfig holds the dependencies for creating a Dispatcher.
type DispatcherConfig struct {
	Channels []Channel
	Limiter  *RateLimiter
	Logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels: cfg.Channels,
		limiter:  cfg.Limiter,
		logger:   logger,
	}
}

// Dispatch delivers every alert the outcome warrants. It never fails: channel
// errors are logged with the notify_failed code, and the rate-limit stamp is
// recorded only when at least one channel accepted the alert, so a fully
// failed delivery is retried on the next cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome poll.Outcome) {
	for _, alert := range d.alertsFor(outcome) {
		if d.limiter != nil && !d.limiter.Allow(ctx, alert.Category) {
			d.logger.InfoContext(ctx, "alert suppressed by rate limit",
				"category", string(alert.Category),
			)
			continue
		}

		if len(d.channels) == 0 {
			d.logger.InfoContext(ctx, "no notification channels configured",
				"category", string(alert.Category),
				"title", alert.Title,
			)
			continue
		}

		delivered := false
		for _, ch := range d.channels {
			if err := ch.Send(ctx, alert); err != nil {
				d.logger.ErrorContext(ctx, "notification delivery failed",
					"channel", ch.Name(),
					"category", string(alert.Category),
					"error", types.NewAppError(types.ErrCodeNotifyFailed, "channel send failed", err),
				)
				continue
			}
			delivered = true
			d.logger.InfoContext(ctx, "alert delivered",
				"channel", ch.Name(),
				"category", string(alert.Category),
			)
		}
		if delivered && d.limiter != nil {
			d.limiter.Record(ctx, alert.Category)
		}
	}
}

// alertsFor maps one outcome to its alerts.
func (d *Dispatcher) alertsFor(outcome poll.Outcome) []Alert {
	var alerts []Alert

	if outcome.Kind == poll.KindNewMessages {
		m := outcome.Latest()
		alerts = append(alerts, Alert{
			Category: CategoryNewMessage,
			Title:    fmt.Sprintf("New SMS from %s", m.Sender),
			Body:     fmt.Sprintf("%s\n(received %s)", m.Content, m.ReceivedAt),
			Message:  m,
		})
	}

	switch outcome.Escalation.Action {
	case poll.ActionAlertNow:
		body := fmt.Sprintf("%d consecutive poll cycles have failed", outcome.Escalation.Count)
		if outcome.Err != nil {
			body = fmt.Sprintf("%s; last error: %v", body, outcome.Err)
		}
		alerts = append(alerts, Alert{
			Category: CategoryPollFailure,
			Title:    "SMS relay is failing",
			Body:     body,
		})
	case poll.ActionAlertRecovered:
		alerts = append(alerts, Alert{
			Category: CategoryPollRecovered,
			Title:    "SMS relay recovered",
			Body:     fmt.Sprintf("polling recovered after %d consecutive failures", outcome.Escalation.Count),
		})
	}

	if outcome.IDReset {
		alerts = append(alerts, Alert{
			Category: CategoryIDReset,
			Title:    "Gateway message counter reset",
			Body:     "the device restarted its message id numbering; deduplication fell back to content hashes for the batch",
		})
	}

	return alerts
}
