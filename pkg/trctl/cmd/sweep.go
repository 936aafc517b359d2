package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSweepCommand builds the manual sweep trigger.
func NewSweepCommand() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run an escalation sweep now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			stats, err := buildClient(rt).Sweep(cmd.Context(), org)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), stats)
			}
			fmt.Fprintf(rt.Writer(),
				"overdue: %d (critical: %d, max delay: %.0fs), escalated: %d, advanced: %d, completed: %d, cancelled: %d, errors: %d\n",
				stats.OverdueUnresolved, stats.OverdueCritical, stats.MaxDelaySeconds,
				stats.TasksEscalated, stats.InstancesAdvanced, stats.InstancesCompleted,
				stats.InstancesCancelled, stats.RowErrors)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Restrict the sweep to one organization")
	return cmd
}
