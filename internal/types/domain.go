// Package types defines the core domain model for the SMS relay: the inbound
// message record, the persisted poller state, and the identity hash used as
// the primary deduplication key.
//
// The gateway assigns each message a sequential id, but that counter resets
// when the device reboots or loses power. Identity is therefore derived from
// message content (sender, device timestamp, body), and the id is only a
// secondary watermark.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// identityHashLen is the number of hex characters kept from the SHA-256 digest.
// 16 chars (64 bits) is ample for the dedup window while keeping state files small.
const identityHashLen = 16

// Message is one inbound SMS as reported by the gateway device.
type Message struct {
	// ID is the device-assigned sequence number. NOT monotonic across device
	// reboots; it may reset to a low value. Never use it as the sole dedup key.
	ID int64 `json:"id"`

	// Sender is the free-form originating address (usually phone-number-like).
	Sender string `json:"sender"`

	// ReceivedAt is the device-native timestamp string, passed through
	// verbatim. It is opaque to the relay and never reparsed.
	ReceivedAt string `json:"received_at"`

	// Content is the message body. May be empty.
	Content string `json:"content"`

	// Read is the source-reported read flag. Informational only; not
	// authoritative for deduplication.
	Read bool `json:"read"`
}

// IdentityHash computes the content-derived dedup key for a message:
// the first 16 hex characters of SHA-256("sender|received_at|content").
// The device id is deliberately excluded because it can reset.
func IdentityHash(m Message) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", m.Sender, m.ReceivedAt, m.Content))
	return hex.EncodeToString(sum[:])[:identityHashLen]
}

// StateSchemaVersion is the current PollerState schema version. Loaders accept
// older versions and default absent fields (see state.Store).
const StateSchemaVersion = 2

// PollerState is the single persisted progress record, owned exclusively by
// the poll cycle controller and written atomically after every cycle.
type PollerState struct {
	SchemaVersion int `json:"schema_version"`

	// LastProcessedID is the highest device id considered processed under the
	// current id-numbering epoch.
	LastProcessedID int64 `json:"last_processed_id"`

	// MaxIDSeen is the highest device id ever observed across all epochs.
	// A fetched batch whose ids sit well below this value signals that the
	// device restarted its counter.
	MaxIDSeen int64 `json:"max_id_seen"`

	// ProcessedHashes is the bounded, insertion-ordered set of identity hashes
	// already relayed. Oldest entries are evicted first once the cap is hit.
	ProcessedHashes []string `json:"processed_hashes"`

	// TotalReceived counts every message ever classified as new. Monotonic.
	TotalReceived int64 `json:"total_received"`

	// LastCheck is when the most recent cycle completed, success or failure.
	LastCheck time.Time `json:"last_check,omitzero"`

	// LastMessageAt is when the most recent new message was classified.
	LastMessageAt time.Time `json:"last_message_at,omitzero"`

	// LatestMessage is a copy of the most recently classified-new message,
	// kept for downstream notification and the status CLI.
	LatestMessage *Message `json:"latest_message,omitempty"`

	// ConsecutiveFailures counts unsuccessful cycles since the last success.
	// Maintained by the failure escalation tracker, reset on any successful
	// cycle, and persisted alongside the dedup state.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// NewPollerState returns a default-initialized state for first run or for
// recovery from an unreadable state file.
func NewPollerState() *PollerState {
	return &PollerState{SchemaVersion: StateSchemaVersion}
}

// HasSeen reports whether the given identity hash is already recorded.
func (s *PollerState) HasSeen(hash string) bool {
	for _, h := range s.ProcessedHashes {
		if h == hash {
			return true
		}
	}
	return false
}
