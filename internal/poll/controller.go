// Package poll runs the relay's core cycle: fetch the device inbox with
// retry, classify new messages, archive them, persist state, and report a
// typed Outcome. The archive append happens-before the state save, so a crash
// between the two at worst re-archives a message on the next cycle (the
// archive merges by hash) and never silently drops one.
//
// Cancellation is cooperative and checked only at safe checkpoints: before a
// fetch attempt, after the fetch completes, and before the state write. A
// state file is never left half-written.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"smsrelay/internal/archive"
	"smsrelay/internal/dedup"
	"smsrelay/internal/state"
	"smsrelay/internal/types"
)

// Controller owns one poll cycle end to end. It is the single writer of the
// poller state for the cycle's duration; the process-level lock in cmd/poller
// enforces that exclusivity across invocations.
type Controller struct {
	source  types.MessageSource
	engine  *dedup.Engine
	states  *state.Store
	archive archive.Store
	tracker *Tracker
	clock   types.Clock
	logger  *slog.Logger

	maxAttempts   int
	retryBaseWait time.Duration
	sleep         sleepFn
}

// ControllerConfig holds the dependencies for creating a Controller.
type ControllerConfig struct {
	Source  types.MessageSource
	Engine  *dedup.Engine
	States  *state.Store
	Archive archive.Store
	Tracker *Tracker
	Clock   types.Clock
	Logger  *slog.Logger

	// MaxAttempts and RetryBaseWait tune the fetch retry policy; zero values
	// fall back to the defaults.
	MaxAttempts   int
	RetryBaseWait time.Duration
}

// NewController creates a Controller with the given configuration.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := cfg.Engine
	if engine == nil {
		engine = dedup.NewEngine(dedup.Config{})
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker(0, logger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseWait := cfg.RetryBaseWait
	if baseWait <= 0 {
		baseWait = DefaultRetryBaseWait
	}
	return &Controller{
		source:        cfg.Source,
		engine:        engine,
		states:        cfg.States,
		archive:       cfg.Archive,
		tracker:       tracker,
		clock:         clock,
		logger:        logger,
		maxAttempts:   maxAttempts,
		retryBaseWait: baseWait,
		sleep:         sleepContext,
	}
}

// RunCycle executes one full poll cycle and returns its Outcome.
func (c *Controller) RunCycle(ctx context.Context) Outcome {
	cycleID := uuid.NewString()
	ctx = types.WithCycleID(ctx, cycleID)
	logger := c.logger.With("cycle_id", cycleID)

	logger.InfoContext(ctx, "poll cycle started")

	batch, attempts, err := c.fetchWithRetry(ctx, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.InfoContext(ctx, "cycle cancelled during fetch", "attempts", attempts)
			return Outcome{Kind: KindCancelled, Attempts: attempts, Escalation: Decision{Action: ActionNone}, Err: err}
		}

		kind := KindPermanentError
		if types.IsTransient(err) {
			kind = KindTransientError
		}
		outcome := Outcome{Kind: kind, Attempts: attempts, Err: err}
		c.recordFailure(ctx, logger, &outcome)
		logger.ErrorContext(ctx, "poll cycle failed",
			"outcome", string(kind),
			"attempts", attempts,
			"error", err,
		)
		return outcome
	}

	// Checkpoint: fetch finished; stop before touching state.
	if ctx.Err() != nil {
		logger.InfoContext(ctx, "cycle cancelled after fetch", "attempts", attempts)
		return Outcome{Kind: KindCancelled, Attempts: attempts, Escalation: Decision{Action: ActionNone}, Err: ctx.Err()}
	}

	st := c.states.Load(ctx)
	result := c.engine.Classify(batch, st)
	now := c.clock.Now()
	st.LastCheck = now

	if result.IDReset {
		logger.WarnContext(ctx, "device id counter reset detected, falling back to hash-only filtering",
			"max_id_seen", st.MaxIDSeen,
			"batch_size", len(batch),
		)
	}

	if len(result.New) > 0 {
		records := make([]archive.Record, 0, len(result.New))
		for _, m := range result.New {
			records = append(records, archive.NewRecord(m))
		}
		if _, err := c.archive.Append(ctx, archive.MonthOf(now), records); err != nil {
			// The loaded state carries the advanced watermark; recordFailure
			// works on a fresh copy so the advance never reaches disk.
			outcome := Outcome{Kind: KindPermanentError, Attempts: attempts, IDReset: result.IDReset, Err: err}
			c.recordFailure(ctx, logger, &outcome)
			logger.ErrorContext(ctx, "archiving new messages failed",
				"new_messages", len(result.New),
				"error", err,
			)
			return outcome
		}

		st.LastMessageAt = now
		latest := result.New[len(result.New)-1]
		st.LatestMessage = &latest
	}

	// Checkpoint: never start a state write after cancellation. The archive
	// write above is idempotent, so the next cycle re-derives the same result.
	if ctx.Err() != nil {
		logger.InfoContext(ctx, "cycle cancelled before state write", "attempts", attempts)
		return Outcome{Kind: KindCancelled, Attempts: attempts, IDReset: result.IDReset, Escalation: Decision{Action: ActionNone}, Err: ctx.Err()}
	}

	outcome := Outcome{Kind: KindNoNewMessages, Attempts: attempts, IDReset: result.IDReset}
	if len(result.New) > 0 {
		outcome.Kind = KindNewMessages
		outcome.New = result.New
	}
	outcome.Escalation = c.tracker.OnOutcome(st, outcome.Kind)

	if err := c.states.Save(ctx, st); err != nil {
		// The watermark must never advance without a durable state write; a
		// persistence failure after new messages were classified is fatal for
		// the cycle even though the archive already holds them.
		failed := Outcome{Kind: KindPermanentError, Attempts: attempts, IDReset: result.IDReset, Err: err}
		c.recordFailure(ctx, logger, &failed)
		logger.ErrorContext(ctx, "state save failed",
			"new_messages", len(result.New),
			"error", err,
		)
		return failed
	}

	logger.InfoContext(ctx, "poll cycle complete",
		"outcome", string(outcome.Kind),
		"new_messages", len(result.New),
		"attempts", attempts,
		"total_received", st.TotalReceived,
	)
	return outcome
}

// recordFailure folds an error outcome into persisted state: bump the failure
// counter, stamp lastCheck. It reloads from disk so any in-memory watermark
// changes from the failed cycle are discarded. Best effort: a save failure
// here is logged, never escalated further.
func (c *Controller) recordFailure(ctx context.Context, logger *slog.Logger, outcome *Outcome) {
	st := c.states.Load(ctx)
	st.LastCheck = c.clock.Now()
	outcome.Escalation = c.tracker.OnOutcome(st, outcome.Kind)
	if err := c.states.Save(ctx, st); err != nil {
		logger.WarnContext(ctx, "recording failed cycle in state failed", "error", err)
	}
}
