package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"smsrelay/internal/archive"
)

// compactCmd returns the compact command, which gzips closed archive months.
func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact closed archive months (file backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			if env.cfg.Archive.Backend != "file" {
				return fmt.Errorf("compaction applies to the file backend only (configured: %s)", env.cfg.Archive.Backend)
			}

			store := archive.NewFileStore(env.cfg.ArchiveDir(), env.codec, env.logger)
			compacted, err := store.Compact(cmd.Context(), time.Now().UTC(), env.cfg.Archive.CompactAfter)
			if err != nil {
				return fmt.Errorf("compacting archive: %w", err)
			}

			if len(compacted) == 0 {
				fmt.Println("nothing to compact")
				return nil
			}
			for _, month := range compacted {
				fmt.Printf("compacted %s\n", month)
			}
			return nil
		},
	}
}
