package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewFlagCommand builds the feature flag subtree.
func NewFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Evaluate feature flags",
	}
	cmd.AddCommand(newFlagEvaluateCommand())
	return cmd
}

func newFlagEvaluateCommand() *cobra.Command {
	var (
		org   string
		user  string
		roles string
	)
	cmd := &cobra.Command{
		Use:   "evaluate <code>",
		Short: "Evaluate a flag for a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			enabled, err := buildClient(rt).EvaluateFlag(cmd.Context(), args[0], org, user, roles)
			if err != nil {
				return err
			}
			if enabled {
				fmt.Fprintln(rt.Writer(), "enabled")
			} else {
				fmt.Fprintln(rt.Writer(), "disabled")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	cmd.Flags().StringVar(&user, "user", "", "User ID")
	cmd.Flags().StringVar(&roles, "roles", "", "Comma-separated role codes")
	return cmd
}
