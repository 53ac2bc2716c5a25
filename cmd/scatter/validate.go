// File: cmd/scatter/validate.go
// Brief: CLI command wiring and implementation for 'validate'.

package main

import (
	"fmt"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/jsonsafe"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/manifest"
	"github.com/spf13/cobra"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a declaration file without deploying it",
		Long: `Check that every deployable has a registered type, every name is unique,
every reference points at a declared deployable and all options are plain
JSON data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := loadDeclarations(root, file)
			if err != nil {
				return err
			}
			if err := validateDeployment(d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d deployables, %d references\n", len(d), len(deployment.References(d)))
			return nil
		},
	}
	addFileFlag(cmd, &file)
	return cmd
}

func validateDeployment(d deployment.Deployment) error {
	if err := deployment.CheckReferences(d); err != nil {
		return err
	}
	for _, name := range d.Names() {
		if _, err := jsonsafe.Assert(manifest.Plain(d[name].Options)); err != nil {
			return fmt.Errorf("options of %s: %w", name, err)
		}
	}
	return nil
}
