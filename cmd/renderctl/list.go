package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/models"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently updated jobs in a status",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().String("status", string(models.JobStatusRendering), "Job status to list")
	cmd.Flags().Int("limit", 50, "Maximum number of jobs")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	status := models.JobStatus(strings.TrimSpace(raw))
	if !models.IsKnownStatus(status) {
		return fmt.Errorf("unknown status %q", raw)
	}
	if limit < 1 {
		return fmt.Errorf("--limit must be positive")
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

	jobs, err := database.ListJobsByStatus(cmd.Context(), status, limit)
	if err != nil {
		return err
	}
	return printJobTable(cmd.OutOrStdout(), jobs, time.Now())
}

func printJobTable(out io.Writer, jobs []models.Job, now time.Time) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(out, "no jobs")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tPROGRESS\tLEASE\tUPDATED")
	for i := range jobs {
		job := &jobs[i]
		lease := "-"
		if job.RenderLeaseOwner != nil {
			lease = *job.RenderLeaseOwner
			if models.LeaseExpired(job, now) {
				lease += " (expired)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\n",
			job.ID, job.Status, job.ProgressPercent, lease, job.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
