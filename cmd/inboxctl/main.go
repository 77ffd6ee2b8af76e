// Package main implements inboxctl, the operator CLI for the SMS relay.
//
// Subcommands:
//
//	inboxctl status   – relay health and state summary
//	inboxctl list     – the device's current inbox view
//	inboxctl reset    – emergency state reset (next cycle re-relays everything)
//	inboxctl compact  – gzip closed archive months (file backend)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"smsrelay/internal/codec"
	"smsrelay/internal/config"
	"smsrelay/internal/state"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Operator tooling for the SMS relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(compactCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cliEnv bundles what every subcommand needs: validated configuration, a
// stderr logger (stdout stays clean for command output), and the state store.
type cliEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	codec  codec.Codec
	states *state.Store
}

func loadEnv() (*cliEnv, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	contentCodec, err := cfg.ContentCodec()
	if err != nil {
		return nil, err
	}

	return &cliEnv{
		cfg:    cfg,
		logger: logger,
		codec:  contentCodec,
		states: state.NewStore(cfg.State.Dir, contentCodec, logger),
	}, nil
}
