// File: cmd/scatter/status.go
// Brief: CLI command wiring and implementation for 'status'.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/manifest"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/state"
	"github.com/spf13/cobra"
)

type statusReport struct {
	Run     *state.Run         `json:"run"`
	Entries []state.Entry      `json:"entries"`
	Events  []deployment.Event `json:"events,omitempty"`
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	var runID, output string
	var events, list bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a recorded run and what it deployed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := statusFormat(output)
			if err != nil {
				return err
			}
			store, err := state.OpenReadOnly(root.statePath)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no state store at %s: %w", root.statePath, state.ErrNoRuns)
				}
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if list {
				runs, err := store.ListRuns(ctx, 20)
				if err != nil {
					return err
				}
				return writeRuns(cmd.OutOrStdout(), runs)
			}
			var run *state.Run
			if strings.TrimSpace(runID) == "" {
				run, err = store.LatestRun(ctx)
			} else {
				run, err = store.GetRun(ctx, runID)
			}
			if err != nil {
				return err
			}
			if format == "declarations" {
				d, err := store.LoadDeployment(ctx, run.RunID)
				if err != nil {
					return err
				}
				raw, err := manifest.Encode(d)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			report := statusReport{Run: run}
			if report.Entries, err = store.Entries(ctx, run.RunID); err != nil {
				return err
			}
			if events || format == "json" {
				if report.Events, err = store.Events(ctx, run.RunID); err != nil {
					return err
				}
			}
			return writeStatus(cmd.OutOrStdout(), report, format, events)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run ID to show (defaults to the most recent run)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, declarations)")
	cmd.Flags().BoolVar(&events, "events", false, "Include the run's event log")
	cmd.Flags().BoolVar(&list, "list", false, "List recent runs instead of showing one")
	return cmd
}

// statusFormat normalizes the -o value. An empty value means table.
func statusFormat(output string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(output)); format {
	case "", "table":
		return "table", nil
	case "json", "declarations":
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table, json, or declarations)", output)
	}
}

func writeStatus(w io.Writer, report statusReport, format string, events bool) error {
	if format == "json" {
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}

	run := report.Run
	fmt.Fprintf(w, "Run:     %s\n", run.RunID)
	fmt.Fprintf(w, "Command: %s\n", run.Command)
	fmt.Fprintf(w, "Status:  %s\n", run.Status)
	fmt.Fprintf(w, "Created: %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated: %s\n\n", run.UpdatedAt.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDIGEST\tCURRENT")
	for _, e := range report.Entries {
		current, err := json.Marshal(e.Current)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.TypeName, shortDigest(e.Digest), current)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !events {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tEVENT\tNAME\tDETAIL")
	for _, ev := range report.Events {
		detail := ev.Message
		if ev.Error != "" {
			detail = ev.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.Phase, ev.Type, orDash(ev.Name), detail)
	}
	return tw.Flush()
}

func writeRuns(w io.Writer, runs []state.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCOMMAND\tSTATUS\tDEPLOYABLES\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", run.RunID, run.Command, run.Status, run.Deployables, run.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func shortDigest(d string) string {
	_, hex, ok := strings.Cut(d, ":")
	if !ok {
		hex = d
	}
	if len(hex) > 12 {
		hex = hex[:12]
	}
	return hex
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
