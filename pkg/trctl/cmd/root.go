package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Config carries the injectable pieces of the CLI, mostly for tests.
type Config struct {
	OutputWriter io.Writer
}

type runtimeState struct {
	server       string
	outputFormat string
	verbose      bool
	writer       io.Writer
}

type runtimeKey struct{}

// DefaultConfig returns the production CLI configuration.
func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

// NewRootCommand builds the trctl command tree.
func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:   "trctl",
		Short: "TaskRouter CLI",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.server == "" {
				rt.server = os.Getenv("TRCTL_SERVER")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("TRCTL_OUTPUT")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("TRCTL_VERBOSE"), "true")
			}
			if cmd.Name() == "version" {
				return nil
			}
			if rt.server == "" {
				rt.server = "http://localhost:8080"
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "TaskRouter server URL")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose output")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewSignalCommand(),
		NewTaskCommand(),
		NewSweepCommand(),
		NewFlagCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	return "table"
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}
