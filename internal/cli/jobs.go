package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edvin/jobrunner/internal/config"
	"github.com/edvin/jobrunner/internal/logging"
	"github.com/edvin/jobrunner/internal/setup"
)

func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect job definitions",
	}
	cmd.AddCommand(newJobsListCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered jobs and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rt, err := setup.NewRuntime(ctx, cfg, logging.NewLogger(cfg))
			if err != nil {
				return err
			}
			defer rt.Close()

			cursor := ""
			for {
				jobs, hasMore, err := rt.Services.JobDefinition.List(ctx, 200, cursor)
				if err != nil {
					return err
				}
				for _, j := range jobs {
					flags := ""
					if !j.Installed {
						flags += " not-installed"
					}
					if j.IsSingleton {
						flags += " singleton"
					}
					if j.ApprovalRequired {
						flags += " approval"
					}
					state := "disabled"
					if j.Enabled {
						state = "enabled"
					}
					fmt.Printf("%-30s %-9s%s\n", j.ID, state, flags)
				}
				if !hasMore || len(jobs) == 0 {
					return nil
				}
				cursor = jobs[len(jobs)-1].ID
			}
		},
	}
}
