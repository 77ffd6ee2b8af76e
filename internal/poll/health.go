package poll

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"smsrelay/internal/state"
	"smsrelay/internal/types"
)

// DefaultStalenessThreshold is the lastCheck age past which the relay is
// considered degraded.
const DefaultStalenessThreshold = 30 * time.Minute

// Status is the relay's overall condition.
type Status string

const (
	// StatusHealthy: state is readable and the last cycle is recent.
	StatusHealthy Status = "healthy"
	// StatusDegraded: state is readable but the last cycle is stale.
	StatusDegraded Status = "degraded"
	// StatusDown: state is missing/unreadable, or the source is confirmed
	// unreachable when active probing is enabled.
	StatusDown Status = "down"
)

// Report is the health evaluation result, JSON-ready for the health endpoint.
type Report struct {
	Status    Status    `json:"status"`
	LastCheck time.Time `json:"last_check,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}

// Prober optionally confirms the source device is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Evaluator derives relay health from the persisted state's age and, when a
// prober is configured, from source reachability. Strictly read-only.
type Evaluator struct {
	states    *state.Store
	clock     types.Clock
	staleness time.Duration
	prober    Prober
	logger    *slog.Logger
}

// EvaluatorConfig holds the dependencies for creating an Evaluator.
type EvaluatorConfig struct {
	States    *state.Store
	Clock     types.Clock
	Staleness time.Duration
	// Prober enables the active source check; nil keeps evaluation passive.
	Prober Prober
	Logger *slog.Logger
}

// NewEvaluator creates an Evaluator with the given configuration.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	staleness := cfg.Staleness
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		states:    cfg.States,
		clock:     clock,
		staleness: staleness,
		prober:    cfg.Prober,
		logger:    logger,
	}
}

// Health evaluates the relay's current condition.
func (e *Evaluator) Health(ctx context.Context) Report {
	st, err := e.states.LoadChecked(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Report{Status: StatusDown, Reason: "no state file: the poller has never completed a cycle"}
		}
		return Report{Status: StatusDown, Reason: fmt.Sprintf("state unreadable: %v", err)}
	}

	if e.prober != nil {
		if err := e.prober.Probe(ctx); err != nil {
			e.logger.WarnContext(ctx, "source probe failed", "error", err)
			return Report{
				Status:    StatusDown,
				LastCheck: st.LastCheck,
				Reason:    fmt.Sprintf("source unreachable: %v", err),
			}
		}
	}

	if st.LastCheck.IsZero() {
		return Report{Status: StatusDegraded, Reason: "state file has no recorded cycle yet"}
	}

	age := e.clock.Now().Sub(st.LastCheck)
	if age > e.staleness {
		return Report{
			Status:    StatusDegraded,
			LastCheck: st.LastCheck,
			Reason: fmt.Sprintf("last cycle %s ago exceeds staleness threshold %s",
				age.Truncate(time.Second), e.staleness),
		}
	}

	return Report{Status: StatusHealthy, LastCheck: st.LastCheck}
}
