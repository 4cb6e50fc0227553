package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/models"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <job_id>",
		Short: "Show whether a job may render and what blocks it",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	database, err := db.New(cmd.Context(), cfg.DatabaseURL, logger.Named("db"))
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := database.GetJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}

	printJob(cmd, job)
	out := cmd.OutOrStdout()
	if to, drifted := models.ReconcileAssetStatus(job); drifted {
		fmt.Fprintf(out, "drift:    status would be corrected to %s\n", to)
	}
	if blockers := models.RenderBlockers(job); len(blockers) > 0 {
		fmt.Fprintln(out, "eligible: no")
		for _, b := range blockers {
			fmt.Fprintf(out, "  - %s\n", b)
		}
		return nil
	}
	fmt.Fprintln(out, "eligible: yes")
	return nil
}
