// Package notify delivers cycle outcomes to external channels: the latest new
// message, failure escalations, recoveries, and id-reset events. Delivery is
// strictly downstream of the cycle: a channel failure is logged and never
// changes the cycle's outcome or exit code.
//
// Alerts are rate-limited per category with a persisted last-sent map, so a
// flapping gateway cannot turn every five-minute cron tick into a page.
package notify

import (
	"context"

	"smsrelay/internal/types"
)

// Category groups alerts for rate limiting. Alerts of the same category are
// subject to the minimum send interval; different categories never suppress
// each other.
type Category string

const (
	// CategoryNewMessage announces a newly relayed SMS.
	CategoryNewMessage Category = "new_message"
	// CategoryPollFailure escalates a consecutive-failure streak.
	CategoryPollFailure Category = "poll_failure"
	// CategoryPollRecovered announces the end of an escalated streak.
	CategoryPollRecovered Category = "poll_recovered"
	// CategoryIDReset reports a device id counter reset. Informational.
	CategoryIDReset Category = "id_reset"
)

// Alert is one notification ready for delivery.
type Alert struct {
	Category Category
	Title    string
	Body     string

	// Message carries the relayed SMS for CategoryNewMessage alerts, nil
	// otherwise.
	Message *types.Message
}

// Channel delivers alerts to one external destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}
