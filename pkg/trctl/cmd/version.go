package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orgsignal/taskrouter/pkg/system"
)

// NewVersionCommand prints the CLI version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the trctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.Writer(), "trctl %s\n", system.Version)
			return nil
		},
	}
}
