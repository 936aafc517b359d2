package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orgsignal/taskrouter/pkg/task"
)

// NewTaskCommand builds the "task" subtree.
func NewTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and update tasks",
	}
	cmd.AddCommand(
		newTaskListCommand(),
		newTaskGetCommand(),
		newTaskStatusCommand(),
		newTaskEscalateCommand(),
	)
	return cmd
}

func newTaskListCommand() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			tasks, err := buildClient(rt).ListTasks(cmd.Context(), org)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), tasks)
			}
			return printTaskTable(rt, tasks)
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	return cmd
}

func newTaskGetCommand() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			t, err := buildClient(rt).GetTask(cmd.Context(), org, args[0])
			if err != nil {
				return err
			}
			return printJSON(rt.Writer(), t)
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newTaskStatusCommand() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "status <task-id> <new-status>",
		Short: "Transition a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			t, err := buildClient(rt).UpdateStatus(cmd.Context(), org, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.Writer(), "task %s is now %s\n", t.ID, t.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newTaskEscalateCommand() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "escalate <task-id>",
		Short: "Escalate a task manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			t, err := buildClient(rt).EscalateTask(cmd.Context(), org, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.Writer(), "task %s escalated to level %d\n", t.ID, t.EscalationLevel)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func printTaskTable(rt *runtimeState, tasks []*task.Task) error {
	w := tabwriter.NewWriter(rt.Writer(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORG\tSTATUS\tPRIORITY\tSEVERITY\tESC\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.OrganizationID, t.Status, t.Priority, t.Severity, t.EscalationLevel, t.Title)
	}
	return w.Flush()
}
