package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edvin/jobrunner/internal/config"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/lock"
	"github.com/edvin/jobrunner/internal/logging"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
	"github.com/edvin/jobrunner/internal/setup"
	"github.com/edvin/jobrunner/internal/worker"
)

// NewRunCmd executes a job in-process, bypassing the broker. The result
// row, log entries and singleton lock behave exactly as a dispatched run;
// only the queueing is skipped.
func NewRunCmd() *cobra.Command {
	var (
		dataJSON    string
		dryRun      bool
		requestedBy string
	)

	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a job locally, bypassing the broker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobID := args[0]

			var data map[string]any
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("invalid --data json: %w", err)
				}
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

			validated, err := rt.Registry.ValidateInputs(ctx, jobID, data)
			if err != nil {
				return err
			}
			def, err := rt.Registry.Definition(ctx, jobID)
			if err != nil {
				return err
			}

			token := ""
			if def.IsSingleton {
				token, err = rt.Locker.Acquire(ctx, def.ID, def.HardTimeLimit())
				if err != nil {
					if errors.Is(err, lock.ErrConflict) {
						return fmt.Errorf("job %q is already running", def.ID)
					}
					return err
				}
			}

			encoded, err := json.Marshal(validated)
			if err != nil {
				return err
			}
			result := &model.JobResult{
				ID:          platform.NewID(),
				JobID:       def.ID,
				RequestedBy: requestedBy,
				QueueName:   "local",
				Arguments:   encoded,
				DryRun:      dryRun || def.DryRunDefault,
			}
			if err := rt.Services.JobResult.Create(ctx, result); err != nil {
				return err
			}

			executor := worker.NewExecutor(rt.Registry, rt.Services.JobResult, rt.Services.JobLog,
				rt.Locker, rt.Events, logger)
			outcome := executor.Execute(ctx, dispatch.Task{
				ResultID:             result.ID,
				JobID:                def.ID,
				Queue:                "local",
				Args:                 validated,
				RequestedBy:          requestedBy,
				DryRun:               result.DryRun,
				SoftTimeLimitSeconds: def.SoftTimeLimitSeconds,
				HardTimeLimitSeconds: def.HardTimeLimitSeconds,
				LockToken:            token,
			})

			fmt.Printf("result %s: %s\n", result.ID, outcome)
			if outcome != worker.OutcomeCompleted {
				return fmt.Errorf("job finished with outcome %s", outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataJSON, "data", "", "Job variables as a JSON object")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Force a dry run")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "jobctl", "User recorded on the result")
	return cmd
}
