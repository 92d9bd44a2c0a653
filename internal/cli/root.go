// Package cli implements the jobctl command set: operator helpers that
// run against the same database and registry as the API, plus the
// in-pod task entrypoint.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobctl",
		Short: "Background job control",
	}
	cmd.AddCommand(NewJobsCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewExecCmd())
	return cmd
}
