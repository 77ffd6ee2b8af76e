package poll

import (
	"log/slog"

	"smsrelay/internal/types"
)

// DefaultFailureThreshold is the consecutive-failure count at which an
// external alert is raised.
const DefaultFailureThreshold = 3

// Action is what the escalation tracker wants done about a cycle result.
type Action string

const (
	// ActionNone: nothing to escalate.
	ActionNone Action = "none"
	// ActionAlertNow: the failure streak reached the threshold; raise an alert.
	ActionAlertNow Action = "alert_now"
	// ActionAlertRecovered: a success ended a streak that had been alerted on.
	ActionAlertRecovered Action = "alert_recovered"
)

// Decision is the tracker's verdict for one cycle.
type Decision struct {
	Action Action

	// Count is the streak the alert carries: the current consecutive-failure
	// count for ActionAlertNow, the just-ended streak for ActionAlertRecovered.
	Count int
}

// Tracker turns consecutive cycle failures into escalation decisions. The
// counter lives on the persisted state so the streak survives process
// restarts; below the threshold failures are logged but not escalated, which
// keeps single blips (already absorbed by fetch retry) out of the alert
// channel.
type Tracker struct {
	threshold int
	logger    *slog.Logger
}

// NewTracker creates a Tracker. A non-positive threshold falls back to the
// default.
func NewTracker(threshold int, logger *slog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{threshold: threshold, logger: logger}
}

// OnOutcome folds one cycle result into the failure counter on state and
// returns the escalation decision. It mutates only ConsecutiveFailures.
// Cancelled cycles leave the counter untouched: a cycle that never ran to a
// verdict says nothing about the source's health.
func (t *Tracker) OnOutcome(state *types.PollerState, kind Kind) Decision {
	switch kind {
	case KindCancelled:
		return Decision{Action: ActionNone}

	case KindNoNewMessages, KindNewMessages:
		prior := state.ConsecutiveFailures
		state.ConsecutiveFailures = 0
		if prior >= t.threshold {
			return Decision{Action: ActionAlertRecovered, Count: prior}
		}
		return Decision{Action: ActionNone}

	default:
		state.ConsecutiveFailures++
		if state.ConsecutiveFailures >= t.threshold {
			return Decision{Action: ActionAlertNow, Count: state.ConsecutiveFailures}
		}
		t.logger.Warn("cycle failed below escalation threshold",
			"consecutive_failures", state.ConsecutiveFailures,
			"threshold", t.threshold,
		)
		return Decision{Action: ActionNone}
	}
}
