package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobarin/storyreel/internal/janitor"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired scratch workspaces, keeping diagnostic logs",
		Long: `Delete expired scratch workspaces once, keeping diagnostic logs.

Do not run with a short --ttl while a worker is rendering on the same
scratch root; only the server knows which workspaces are in use.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
	cmd.Flags().Duration("ttl", 0, "Override SCRATCH_TTL")
	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ttl := cfg.ScratchTTL
	if v, _ := cmd.Flags().GetDuration("ttl"); v > 0 {
		ttl = v
	}

	j, err := janitor.New(janitor.Options{Root: cfg.Render.ScratchRoot, TTL: ttl}, logger.Named("janitor"))
	if err != nil {
		return err
	}
	stats, err := j.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workspaces: %d, files removed: %d, dirs removed: %d, bytes freed: %d\n",
		stats.Workspaces, stats.FilesRemoved, stats.DirsRemoved, stats.BytesFreed)
	return nil
}
