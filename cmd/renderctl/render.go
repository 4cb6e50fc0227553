package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobarin/storyreel/internal/app"
	"github.com/bobarin/storyreel/internal/models"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <job_id>",
		Short: "Render one job now, bypassing the queue",
		Long: `Render one job in this process and wait for the outcome.

The job goes through the same gate, lease and state transitions as a queued
render. Interrupting the command returns the job to assets_generated.`,
		Args: cobra.ExactArgs(1),
		RunE: runRender,
	}
	cmd.Flags().Bool("json", false, "Print the final job as JSON")
	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	job, renderErr := a.Renders.Execute(ctx, jobID)
	if job != nil {
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(models.NewJobResponse(job)); err != nil {
				return err
			}
		} else {
			printJob(cmd, job)
		}
	}
	return renderErr
}

func printJob(cmd *cobra.Command, job *models.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job:      %s\n", job.ID)
	fmt.Fprintf(out, "status:   %s\n", job.Status)
	fmt.Fprintf(out, "progress: %d%%\n", job.ProgressPercent)
	if job.FinalVideoURL != nil {
		fmt.Fprintf(out, "video:    %s\n", *job.FinalVideoURL)
	}
	if job.TotalDurationSeconds != nil {
		fmt.Fprintf(out, "duration: %ds\n", *job.TotalDurationSeconds)
	}
	if job.ErrorMessage != nil {
		fmt.Fprintf(out, "error:    %s\n", *job.ErrorMessage)
	}
}
