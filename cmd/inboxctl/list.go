package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smsrelay/internal/gateway"
)

// listCmd returns the list command, which shows the device's current inbox
// view without touching poller state.
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the messages currently on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}

			client, err := gateway.NewClient(gateway.ClientConfig{
				Host:          env.cfg.Gateway.Host,
				AdminPassword: env.cfg.Gateway.AdminPassword,
				Timeout:       env.cfg.Gateway.Timeout,
				Logger:        env.logger,
			})
			if err != nil {
				return fmt.Errorf("creating gateway client: %w", err)
			}

			messages, err := client.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching device inbox: %w", err)
			}
			if len(messages) == 0 {
				fmt.Println("device inbox is empty")
				return nil
			}

			unread := color.New(color.FgHiCyan)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSENDER\tRECEIVED\tCONTENT")
			for _, m := range messages {
				line := fmt.Sprintf("%d\t%s\t%s\t%s", m.ID, m.Sender, m.ReceivedAt, m.Content)
				if !m.Read {
					line = unread.Sprint(line)
				}
				fmt.Fprintln(w, line)
			}
			return w.Flush()
		},
	}
}
