package poll

import "smsrelay/internal/types"

// Kind classifies how a poll cycle ended.
type Kind string

const (
	// KindNoNewMessages: the fetch succeeded and every message was already known.
	KindNoNewMessages Kind = "no_new_messages"
	// KindNewMessages: at least one genuinely new message was relayed.
	KindNewMessages Kind = "new_messages"
	// KindTransientError: the fetch failed with retryable errors until the
	// attempts were exhausted.
	KindTransientError Kind = "transient_error"
	// KindPermanentError: the cycle hit a non-retryable failure (auth rejected,
	// malformed response, persistence failure after new messages).
	KindPermanentError Kind = "permanent_error"
	// KindCancelled: an external cancellation stopped the cycle at a safe
	// checkpoint. Neither success nor failure.
	KindCancelled Kind = "cancelled"
)

// Outcome is the typed result of one poll cycle. Process exit codes are
// derived from it at the command boundary, never inside the core.
type Outcome struct {
	Kind Kind

	// New holds the messages classified as new this cycle, oldest first.
	New []types.Message

	// Attempts is the number of fetch attempts actually started, observable
	// for diagnostics regardless of how the cycle ended.
	Attempts int

	// IDReset reports that the device id counter restarted this cycle.
	// Informational, never an error.
	IDReset bool

	// Escalation is the failure tracker's decision for this cycle.
	Escalation Decision

	// Err carries the failure for the error kinds.
	Err error
}

// Success reports whether the cycle completed cleanly, with or without new
// messages.
func (o Outcome) Success() bool {
	return o.Kind == KindNoNewMessages || o.Kind == KindNewMessages
}

// Failed reports whether the cycle ended in an error outcome. Cancelled
// counts as neither success nor failure.
func (o Outcome) Failed() bool {
	return o.Kind == KindTransientError || o.Kind == KindPermanentError
}

// Latest returns the newest message of the cycle, or nil.
func (o Outcome) Latest() *types.Message {
	if len(o.New) == 0 {
		return nil
	}
	return &o.New[len(o.New)-1]
}
