package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/orgsignal/taskrouter/pkg/ingest"
)

// NewSignalCommand builds the "signal" subtree.
func NewSignalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Send signals to the router",
	}
	cmd.AddCommand(newSignalSendCommand(false), newSignalSendCommand(true))
	return cmd
}

func newSignalSendCommand(dryRun bool) *cobra.Command {
	var (
		file        string
		org         string
		source      string
		sigType     string
		category    string
		severity    string
		label       string
		title       string
		description string
	)

	use, short := "send", "Send a signal for routing"
	if dryRun {
		use, short = "dryrun", "Evaluate a signal without applying actions"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			var sig ingest.Signal
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return errors.Wrapf(err, "failed to read signal file %s", file)
				}
				if err := json.Unmarshal(raw, &sig); err != nil {
					return errors.Wrap(err, "failed to parse signal file")
				}
			}
			if org != "" {
				sig.OrganizationID = org
			}
			if source != "" {
				sig.Source = source
			}
			if sigType != "" {
				sig.Type = sigType
			}
			if category != "" {
				sig.Category = category
			}
			if severity != "" {
				sig.Severity = severity
			}
			if label != "" {
				sig.Label = label
			}
			if title != "" {
				sig.Title = title
			}
			if description != "" {
				sig.Description = description
			}

			c := buildClient(rt)
			if dryRun {
				out, err := c.DryRunSignal(cmd.Context(), sig)
				if err != nil {
					return err
				}
				return printJSON(rt.Writer(), out)
			}

			result, err := c.SendSignal(cmd.Context(), sig)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), result)
			}
			fmt.Fprintf(rt.Writer(), "matched rules: %d, actions applied: %d, failed: %d\n",
				len(result.Matched), len(result.Applied), len(result.Failed))
			for _, id := range result.TaskIDs {
				fmt.Fprintf(rt.Writer(), "created task %s\n", id)
			}
			for _, f := range result.Failed {
				fmt.Fprintf(rt.Writer(), "failed action %s (rule %s): %s\n", f.Action.Type, f.Action.RuleID, f.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the signal payload")
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	cmd.Flags().StringVar(&source, "source", "", "Signal source")
	cmd.Flags().StringVar(&sigType, "type", "", "Signal type")
	cmd.Flags().StringVar(&category, "category", "", "Signal category")
	cmd.Flags().StringVar(&severity, "severity", "", "Signal severity")
	cmd.Flags().StringVar(&label, "label", "", "Signal label")
	cmd.Flags().StringVar(&title, "title", "", "Signal title")
	cmd.Flags().StringVar(&description, "description", "", "Signal description")
	return cmd
}
