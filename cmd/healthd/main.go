// Package main serves the relay's health over HTTP for external monitors.
// The poller itself is a one-shot process, so liveness cannot be observed
// from it directly; healthd evaluates the persisted state instead (and
// optionally probes the gateway) and reports on /healthz.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"smsrelay/internal/config"
	"smsrelay/internal/gateway"
	"smsrelay/internal/poll"
	"smsrelay/internal/state"
)

const shutdownGrace = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	contentCodec, err := cfg.ContentCodec()
	if err != nil {
		return fmt.Errorf("content codec setup: %w", err)
	}

	var prober poll.Prober
	if cfg.Health.ActiveProbe {
		client, err := gateway.NewClient(gateway.ClientConfig{
			Host:          cfg.Gateway.Host,
			AdminPassword: cfg.Gateway.AdminPassword,
			Timeout:       cfg.Gateway.Timeout,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("gateway client setup: %w", err)
		}
		prober = client
	}

	evaluator := poll.NewEvaluator(poll.EvaluatorConfig{
		States:    state.NewStore(cfg.State.Dir, contentCodec, logger),
		Staleness: cfg.Health.StalenessThreshold,
		Prober:    prober,
		Logger:    logger,
	})

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", healthHandler(evaluator))

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Health.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("healthd listening", "port", cfg.Health.Port, "active_probe", cfg.Health.ActiveProbe)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler serves the evaluation as JSON. Degraded still answers 200:
// the relay is alive, just stale; monitors read the status field for nuance.
// Down answers 503 so plain HTTP checks trip on it.
func healthHandler(evaluator *poll.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := evaluator.Health(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == poll.StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			slog.Default().Warn("encoding health report failed", "error", err)
		}
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
