// Package dedup decides which fetched messages are genuinely new. The
// decision combines a content-hash check (primary, survives device id resets)
// with an id watermark (secondary, cheap) and batch-level id-reset detection.
//
// The engine is pure and synchronous: it reads the prior PollerState, returns
// the classified messages plus the updated state fields, and never touches
// I/O. Same inputs, same decisions.
package dedup

import (
	"slices"

	"smsrelay/internal/types"
)

// Defaults for the bounded hash set and the reset heuristic.
const (
	// DefaultMaxHashes caps the processed-hash set.
	DefaultMaxHashes = 1000
	// DefaultLowWater is what the set is trimmed to once the cap is exceeded.
	// The gap gives headroom so eviction runs in batches, not on every insert.
	DefaultLowWater = 500
	// DefaultIDResetTolerance is how far below the historical max the batch
	// max must sit before the id counter is considered reset. A small slack
	// keeps a single out-of-order fetch from flipping the batch into
	// hash-only filtering.
	DefaultIDResetTolerance = 5
)

// Engine classifies fetched batches against poller state.
type Engine struct {
	maxHashes        int
	lowWater         int
	idResetTolerance int64
}

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	MaxHashes        int
	LowWater         int
	IDResetTolerance int64
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		maxHashes:        cfg.MaxHashes,
		lowWater:         cfg.LowWater,
		idResetTolerance: cfg.IDResetTolerance,
	}
	if e.maxHashes <= 0 {
		e.maxHashes = DefaultMaxHashes
	}
	if e.lowWater <= 0 || e.lowWater > e.maxHashes {
		e.lowWater = min(DefaultLowWater, e.maxHashes)
	}
	if e.idResetTolerance <= 0 {
		e.idResetTolerance = DefaultIDResetTolerance
	}
	return e
}

// Result is the outcome of classifying one fetched batch.
type Result struct {
	// New holds the genuinely-new messages, oldest first: ascending id
	// normally, fetch order when an id reset was detected.
	New []types.Message

	// IDReset reports that the device's id counter restarted below the
	// historical maximum. Informational, never an error.
	IDReset bool
}

// Classify decides which messages in the batch are new and updates the
// watermarks, hash set, and counters on state. LastCheck/LastMessageAt are
// the controller's to set; Classify only touches dedup-owned fields.
//
// A message is new iff its identity hash is unseen AND (its id is above the
// watermark OR the batch is in id-reset mode). In reset mode the id filter is
// disabled for the whole batch because the device's numbering restarted and
// comparisons against the old epoch are meaningless.
func (e *Engine) Classify(batch []types.Message, state *types.PollerState) Result {
	if len(batch) == 0 {
		return Result{}
	}

	maxBatchID := batch[0].ID
	for _, m := range batch[1:] {
		if m.ID > maxBatchID {
			maxBatchID = m.ID
		}
	}

	idReset := state.MaxIDSeen > 0 && maxBatchID < state.MaxIDSeen-e.idResetTolerance

	seen := make(map[string]struct{}, len(state.ProcessedHashes))
	for _, h := range state.ProcessedHashes {
		seen[h] = struct{}{}
	}

	var fresh []types.Message
	var freshHashes []string
	for _, m := range batch {
		h := types.IdentityHash(m)
		if _, dup := seen[h]; dup {
			continue
		}
		if !idReset && m.ID <= state.LastProcessedID {
			continue
		}
		// First occurrence wins for duplicate hashes within the batch.
		seen[h] = struct{}{}
		fresh = append(fresh, m)
		freshHashes = append(freshHashes, h)
	}

	if !idReset {
		slices.SortStableFunc(fresh, func(a, b types.Message) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			default:
				return 0
			}
		})
	}

	// The watermark keeps its historical high after a reset; the batch stays
	// in reset mode (hash-only) until the new epoch's ids catch up, which is
	// exactly what keeps low-id messages from being lost.
	state.LastProcessedID = max(state.LastProcessedID, maxBatchID)
	state.MaxIDSeen = max(state.MaxIDSeen, maxBatchID)
	state.ProcessedHashes = append(state.ProcessedHashes, freshHashes...)
	e.trimHashes(state)
	state.TotalReceived += int64(len(fresh))

	return Result{New: fresh, IDReset: idReset}
}

// trimHashes enforces the cap with oldest-first eviction. Once an insert
// pushes the set past the cap it is cut back to the low-water mark, so the
// observable size never exceeds the cap and eviction order is strictly
// insertion order.
func (e *Engine) trimHashes(state *types.PollerState) {
	if len(state.ProcessedHashes) <= e.maxHashes {
		return
	}
	kept := state.ProcessedHashes[len(state.ProcessedHashes)-e.lowWater:]
	state.ProcessedHashes = append([]string(nil), kept...)
}
