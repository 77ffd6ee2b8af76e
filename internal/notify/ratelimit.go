package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"smsrelay/internal/state"
	"smsrelay/internal/types"
)

// DefaultMinInterval is the minimum gap between alerts of the same category.
const DefaultMinInterval = 300 * time.Second

// rateLimitFileName is the persisted last-sent record, kept next to the state
// file so the limit survives across one-shot invocations.
const rateLimitFileName = "notify-ratelimit.json"

// RateLimiter enforces a per-category minimum interval between alerts. The
// last-sent map is reloaded on every call: the poller is a one-shot process,
// so the file is the only memory there is.
type RateLimiter struct {
	dir         string
	minInterval time.Duration
	clock       types.Clock
	logger      *slog.Logger
}

// NewRateLimiter creates a RateLimiter persisting under dir. A non-positive
// interval falls back to the default.
func NewRateLimiter(dir string, minInterval time.Duration, clock types.Clock, logger *slog.Logger) *RateLimiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{dir: dir, minInterval: minInterval, clock: clock, logger: logger}
}

// Allow reports whether a category is clear to send.
func (l *RateLimiter) Allow(ctx context.Context, category Category) bool {
	last, ok := l.load(ctx)[category]
	if !ok {
		return true
	}
	return l.clock.Now().Sub(last) >= l.minInterval
}

// Record stamps the category as sent now. Persistence failures are logged and
// otherwise ignored: losing a rate-limit stamp at worst re-sends one alert.
func (l *RateLimiter) Record(ctx context.Context, category Category) {
	sent := l.load(ctx)
	sent[category] = l.clock.Now()

	raw, err := json.MarshalIndent(sent, "", "  ")
	if err != nil {
		l.logger.WarnContext(ctx, "encoding rate-limit record failed", "error", err)
		return
	}
	if err := state.WriteFileAtomic(l.dir, rateLimitFileName, raw); err != nil {
		l.logger.WarnContext(ctx, "persisting rate-limit record failed", "error", err)
	}
}

// load reads the last-sent map, starting fresh on a missing or corrupt file.
func (l *RateLimiter) load(ctx context.Context) map[Category]time.Time {
	raw, err := os.ReadFile(filepath.Join(l.dir, rateLimitFileName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.WarnContext(ctx, "rate-limit record unreadable, starting fresh", "error", err)
		}
		return map[Category]time.Time{}
	}

	var sent map[Category]time.Time
	if err := json.Unmarshal(raw, &sent); err != nil {
		l.logger.WarnContext(ctx, "rate-limit record corrupt, starting fresh", "error", err)
		return map[Category]time.Time{}
	}
	return sent
}
