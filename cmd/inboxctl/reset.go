package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// resetCmd returns the reset command. Resetting the state makes the next
// cycle treat the device's whole inbox as new, so it is gated behind --yes.
func resetCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset poller state (emergency)",
		Long: `Overwrite the poller state with defaults: watermarks, processed hashes,
counters and the failure streak all go to zero. The next cycle will classify
every message still on the device as new and relay it again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to reset without --yes")
			}

			env, err := loadEnv()
			if err != nil {
				return err
			}
			if err := env.states.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("resetting state: %w", err)
			}

			fmt.Printf("state reset: %s\n", env.states.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the reset")
	return cmd
}
