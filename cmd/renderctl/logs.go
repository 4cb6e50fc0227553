package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobarin/storyreel/internal/render"
)

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job_id> [name]",
		Short: "List a job's render diagnostics, or print one",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runLogs,
	}
}

func runLogs(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	recorder := render.NewFailureRecorder(cfg.Render.LogDir(), logger)
	out := cmd.OutOrStdout()

	if len(args) == 2 {
		data, err := recorder.Read(jobID, args[1])
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	names, err := recorder.List(jobID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "no render logs")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
