// File: cmd/scatter/plan.go
// Brief: CLI command wiring and implementation for 'plan' and 'graph'.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/manifest"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

type planEntry struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Options    any      `json:"options,omitempty"`
	References []string `json:"references,omitempty"`
}

func newPlanCommand(root *rootOptions) *cobra.Command {
	var file, output string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the deployables a declaration file would deploy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := loadDeclarations(root, file)
			if err != nil {
				return err
			}
			return writePlan(cmd.OutOrStdout(), d, output)
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func buildPlan(d deployment.Deployment) []planEntry {
	refs := map[string][]string{}
	for _, e := range deployment.References(d) {
		refs[e.From] = append(refs[e.From], e.To)
	}
	out := make([]planEntry, 0, len(d))
	for _, name := range d.Names() {
		dep := d[name]
		out = append(out, planEntry{
			Name:       name,
			Type:       dep.TypeName,
			Options:    manifest.Plain(dep.Options),
			References: refs[name],
		})
	}
	return out
}

func writePlan(w io.Writer, d deployment.Deployment, output string) error {
	entries := buildPlan(d)
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tTYPE\tREFERENCES")
		for _, e := range entries {
			refs := "-"
			if len(e.References) > 0 {
				refs = strings.Join(e.References, ",")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Type, refs)
		}
		return tw.Flush()
	case "json":
		raw, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(raw))
		return err
	case "yaml":
		raw, err := yaml.Marshal(entries)
		if err != nil {
			return err
		}
		_, err = w.Write(raw)
		return err
	default:
		return fmt.Errorf("unknown output format %q (expected table, json, or yaml)", output)
	}
}

func newGraphCommand(root *rootOptions) *cobra.Command {
	var file, format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the references between deployables as DOT or Mermaid",
		Long: `Render the references between deployables. The graph is informational:
deploy order is decided at run time by the deployables themselves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := loadDeclarations(root, file)
			if err != nil {
				return err
			}
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "dot", "":
				return deployment.WriteDOT(cmd.OutOrStdout(), d)
			case "mermaid":
				return deployment.WriteMermaid(cmd.OutOrStdout(), d)
			default:
				return fmt.Errorf("unknown graph format %q (expected dot or mermaid)", format)
			}
		},
	}
	addFileFlag(cmd, &file)
	cmd.Flags().StringVar(&format, "format", "dot", "Graph format (dot, mermaid)")
	return cmd
}
