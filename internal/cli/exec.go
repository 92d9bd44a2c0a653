package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edvin/jobrunner/internal/config"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/logging"
	"github.com/edvin/jobrunner/internal/setup"
	"github.com/edvin/jobrunner/internal/worker"
)

// NewExecCmd is the pod entrypoint: it reads the task envelope from the
// environment and runs it to completion. The process exit code tells the
// pod backend whether the run succeeded.
func NewExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "exec",
		Short:  "Execute the task from the environment (pod entrypoint)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			raw := os.Getenv(dispatch.TaskEnvVar)
			if raw == "" {
				return fmt.Errorf("%s is not set", dispatch.TaskEnvVar)
			}
			var task dispatch.Task
			if err := json.Unmarshal([]byte(raw), &task); err != nil {
				return fmt.Errorf("parse task envelope: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg)
			rt, err := setup.NewRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			executor := worker.NewExecutor(rt.Registry, rt.Services.JobResult, rt.Services.JobLog,
				rt.Locker, rt.Events, logger)
			outcome := executor.Execute(ctx, task)
			if outcome != worker.OutcomeCompleted && outcome != worker.OutcomeSkipped {
				return fmt.Errorf("task finished with outcome %s", outcome)
			}
			return nil
		},
	}
}
