// Command renderctl is the operator CLI for the render pipeline: render a job
// synchronously, check eligibility, list jobs by status, read diagnostics and
// sweep scratch space.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "renderctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "renderctl",
		Short:         "Operate the storyreel render pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "Override LOG_LEVEL")

	root.AddCommand(newRenderCmd(), newCheckCmd(), newListCmd(), newLogsCmd(), newSweepCmd())
	return root
}

// setup loads configuration and a console logger for interactive use.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
