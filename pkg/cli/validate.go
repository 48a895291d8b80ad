package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/pkg/graph"
	"github.com/flowforge/flowforge/pkg/validation"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	var schemaFile string

	cmd := &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Validate a workflow graph",
		Long: `Validate a workflow graph file for correctness.

This checks:
- Graph structure (IDs, node types, duplicate detection)
- Edge integrity (every edge references existing nodes)
- Circular dependencies
- Data type compatibility along edges
- Optional JSON Schema conformance

Examples:
  flowforge validate pipeline.yaml
  flowforge validate pipeline.json --schema graph-schema.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graph.ParseFile(args[0])
			if err != nil {
				_, _ = fmt.Fprintln(cmd.OutOrStderr(), "✗ Failed to parse graph file")
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "✓ Graph parsed successfully")

			opts := validation.Options{}
			if schemaFile != "" {
				schema, err := validation.LoadSchemaFile(schemaFile)
				if err != nil {
					return fmt.Errorf("failed to load schema: %w", err)
				}
				opts.Schema = schema
			}

			result := validation.NewValidator().Validate(g, opts)

			for _, warning := range result.Warnings {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "⚠ %s\n", warning)
			}
			for _, issue := range result.Errors {
				_, _ = fmt.Fprintf(cmd.OutOrStderr(), "✗ %s\n", issue)
			}

			if !result.Valid {
				return fmt.Errorf("graph validation failed with %d error(s)", len(result.Errors))
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Graph '%s' is valid (%d nodes, %d edges)\n",
				g.ID, len(g.Nodes), len(g.Edges))

			return nil
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON Schema file to validate node configs against")

	return cmd
}
