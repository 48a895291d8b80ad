package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/pkg/graph"
	"github.com/flowforge/flowforge/pkg/optimizer"
)

// NewOptimizeCommand creates the optimize command
func NewOptimizeCommand() *cobra.Command {
	var (
		level      string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "optimize <graph-file>",
		Short: "Optimize a workflow graph and show the execution plan",
		Long: `Validate and optimize a workflow graph, then print the resulting
execution plan: applied rewrite rules, leveled execution order, per-node cost
estimates and detected bottlenecks.

Optimization levels:
  basic       constant folding and dead-code elimination
  standard    adds filter pushdown and cost-based ordering (default)
  advanced    adds projection pushdown and join reordering
  aggressive  all rules

Examples:
  flowforge optimize pipeline.yaml
  flowforge optimize pipeline.yaml --level advanced
  flowforge optimize pipeline.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graph.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse graph file: %w", err)
			}

			opts := optimizer.DefaultOptions()
			opts.Level = optimizer.Level(level)

			plan, err := optimizer.New().Optimize(g, opts)
			if errors.Is(err, optimizer.ErrValidationFailed) {
				for _, issue := range plan.Validation.Errors {
					_, _ = fmt.Fprintf(cmd.OutOrStderr(), "✗ %s\n", issue)
				}
				return err
			}
			if err != nil {
				return err
			}

			if outputJSON {
				data, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode plan: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			printPlan(cmd, plan)
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", string(optimizer.LevelStandard), "Optimization level (basic, standard, advanced, aggressive)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full execution plan as JSON")

	return cmd
}

func printPlan(cmd *cobra.Command, plan *optimizer.ExecutionPlan) {
	out := cmd.OutOrStdout()

	for _, warning := range plan.Validation.Warnings {
		_, _ = fmt.Fprintf(out, "⚠ %s\n", warning)
	}

	_, _ = fmt.Fprintf(out, "Graph: %s (%d nodes, %d edges)\n",
		plan.OptimizedGraph.ID, len(plan.OptimizedGraph.Nodes), len(plan.OptimizedGraph.Edges))

	if len(plan.AppliedRules) > 0 {
		_, _ = fmt.Fprintf(out, "Applied rules: %s\n", strings.Join(plan.AppliedRules, ", "))
	} else {
		_, _ = fmt.Fprintln(out, "Applied rules: none")
	}

	_, _ = fmt.Fprintln(out, "Execution order:")
	for i, level := range plan.ExecutionOrder {
		_, _ = fmt.Fprintf(out, "  level %d: %s\n", i, strings.Join(level, ", "))
	}

	_, _ = fmt.Fprintf(out, "Estimated time: %.1f  cost: %.1f\n", plan.EstimatedTime, plan.EstimatedCost)

	if len(plan.Bottlenecks) > 0 {
		_, _ = fmt.Fprintf(out, "Bottlenecks: %s\n", strings.Join(plan.Bottlenecks, ", "))
	}
	if plan.CacheHit {
		_, _ = fmt.Fprintln(out, "(plan served from cache)")
	}
}
