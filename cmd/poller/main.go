// Package main is the one-shot poll cycle entry point. An external scheduler
// (cron, systemd timer) invokes it periodically; each invocation acquires the
// process lock, runs exactly one fetch-dedupe-archive-persist cycle, hands the
// outcome to the notifier, and exits with the outcome's code.
//
// Exit codes: 0 for a clean cycle (with or without new messages), 1 for an
// error outcome, 130 for cancellation via SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"smsrelay/internal/archive"
	"smsrelay/internal/config"
	"smsrelay/internal/dedup"
	"smsrelay/internal/gateway"
	"smsrelay/internal/notify"
	"smsrelay/internal/poll"
	"smsrelay/internal/state"
	"smsrelay/internal/types"
)

// Exit codes of the process contract. Mapped from the cycle outcome here and
// nowhere else.
const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

// run encapsulates the cycle lifecycle so main() stays a bare exit-code shim.
func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitError
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	contentCodec, err := cfg.ContentCodec()
	if err != nil {
		logger.Error("content codec setup failed", "error", err)
		return exitError
	}

	// One cycle at a time: a concurrent invocation would race on the state
	// file. Stale locks from crashed runs are broken after the TTL.
	lock, err := state.AcquireLock(cfg.State.Dir, cfg.State.LockTTL)
	if err != nil {
		logger.Error("another poller invocation is already running", "error", err)
		return exitError
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("releasing process lock failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	states := state.NewStore(cfg.State.Dir, contentCodec, logger)
	archives, closeArchive, err := archive.NewStore(ctx, cfg, contentCodec, logger)
	if err != nil {
		logger.Error("archive backend setup failed", "error", err)
		return exitError
	}
	defer closeArchive()

	source, err := gateway.NewClient(gateway.ClientConfig{
		Host:          cfg.Gateway.Host,
		AdminPassword: cfg.Gateway.AdminPassword,
		Timeout:       cfg.Gateway.Timeout,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("gateway client setup failed", "error", err)
		return exitError
	}

	controller := poll.NewController(poll.ControllerConfig{
		Source: source,
		Engine: dedup.NewEngine(dedup.Config{
			MaxHashes:        cfg.Poller.MaxHashes,
			LowWater:         cfg.Poller.LowWater,
			IDResetTolerance: cfg.Poller.IDResetTolerance,
		}),
		States:        states,
		Archive:       archives,
		Tracker:       poll.NewTracker(cfg.Poller.FailureThreshold, logger),
		Logger:        logger,
		MaxAttempts:   cfg.Poller.MaxAttempts,
		RetryBaseWait: cfg.Poller.RetryBaseWait,
	})

	outcome := controller.RunCycle(ctx)

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Channels: buildChannels(cfg, logger),
		Limiter:  notify.NewRateLimiter(cfg.State.Dir, cfg.Notify.MinInterval, types.RealClock{}, logger),
		Logger:   logger,
	})
	dispatcher.Dispatch(ctx, outcome)

	return exitCode(outcome)
}

// buildChannels assembles the configured notification channels. No channels
// configured is a valid setup: outcomes are logged only.
func buildChannels(cfg *config.Config, logger *slog.Logger) []notify.Channel {
	httpClient := &http.Client{Timeout: cfg.Notify.SendTimeout}

	var channels []notify.Channel
	if cfg.Notify.TelegramBotToken.Unmask() != "" {
		channels = append(channels, notify.NewTelegramChannel(httpClient, notify.TelegramChannelConfig{
			BotToken: cfg.Notify.TelegramBotToken,
			ChatID:   cfg.Notify.TelegramChatID,
			Logger:   logger,
		}))
	}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(httpClient, notify.WebhookChannelConfig{
			URL:    cfg.Notify.WebhookURL,
			Logger: logger,
		}))
	}
	return channels
}

// exitCode maps the cycle outcome to the process exit contract. A cycle that
// found and delivered new messages is just as clean as a quiet one.
func exitCode(outcome poll.Outcome) int {
	switch outcome.Kind {
	case poll.KindCancelled:
		return exitCancelled
	case poll.KindTransientError, poll.KindPermanentError:
		return exitError
	default:
		return exitOK
	}
}

// newLogger builds the process-wide JSON logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
