package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smsrelay/internal/poll"
)

// statusCmd returns the status command.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay health and state summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			evaluator := poll.NewEvaluator(poll.EvaluatorConfig{
				States:    env.states,
				Staleness: env.cfg.Health.StalenessThreshold,
				Logger:    env.logger,
			})
			report := evaluator.Health(ctx)

			fmt.Printf("Health:  %s\n", colorStatus(report.Status))
			if report.Reason != "" {
				fmt.Printf("         %s\n", report.Reason)
			}
			if !report.LastCheck.IsZero() {
				fmt.Printf("Checked: %s\n", report.LastCheck.Format("2006-01-02 15:04:05 MST"))
			}
			fmt.Println()

			st := env.states.Load(ctx)
			fmt.Printf("Last processed id:     %d\n", st.LastProcessedID)
			fmt.Printf("Max id seen:           %d\n", st.MaxIDSeen)
			fmt.Printf("Total received:        %d\n", st.TotalReceived)
			fmt.Printf("Hashes tracked:        %d\n", len(st.ProcessedHashes))
			fmt.Printf("Consecutive failures:  %d\n", st.ConsecutiveFailures)

			if st.LatestMessage != nil {
				fmt.Println()
				fmt.Printf("Latest message (id %d, received %s):\n",
					st.LatestMessage.ID, st.LatestMessage.ReceivedAt)
				fmt.Printf("  From: %s\n", st.LatestMessage.Sender)
				fmt.Printf("  %s\n", st.LatestMessage.Content)
			}
			return nil
		},
	}
}

func colorStatus(status poll.Status) string {
	switch status {
	case poll.StatusHealthy:
		return color.New(color.FgHiGreen).Sprint("healthy")
	case poll.StatusDegraded:
		return color.New(color.FgYellow).Sprint("degraded")
	default:
		return color.New(color.FgRed).Sprint("down")
	}
}
