package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/pkg/execution"
	"github.com/flowforge/flowforge/pkg/graph"
	"github.com/flowforge/flowforge/pkg/optimizer"
	"github.com/flowforge/flowforge/pkg/storage"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	var (
		level       string
		inputFile   string
		contextVars []string
		outputJSON  bool
		noAudit     bool
	)

	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Optimize and execute a workflow graph",
		Long: `Validate, optimize and execute a workflow graph.

The graph runs level by level with the built-in node handlers. Every run is
recorded in the execution history database unless --no-audit is given.

Examples:
  # Run a pipeline with default settings
  flowforge run pipeline.yaml

  # Pass values into the shared run context
  flowforge run pipeline.yaml --context region=east --context limit=100

  # Load the run context from a JSON file
  flowforge run pipeline.yaml --input context.json

  # Print the full result as JSON
  flowforge run pipeline.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graph.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse graph file: %w", err)
			}

			global, err := buildGlobalContext(inputFile, contextVars)
			if err != nil {
				return err
			}

			registry := execution.NewRegistry()
			execution.RegisterBuiltins(registry)

			opts := optimizer.DefaultOptions()
			opts.Level = optimizer.Level(level)
			opts.KnownTypes = registry.Types()

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

			engine := execution.NewEngine(registry, execution.Options{})

			if !noAudit {
				repo, err := storage.NewSQLiteAuditRepositoryWithPath(GetDatabasePath())
				if err != nil {
					log.Printf("Warning: execution history disabled: %v", err)
				} else {
					defer func() { _ = repo.Close() }()
					engine.SetAuditRepository(repo)
				}
			}

			result, err := engine.ExecutePlan(cmd.Context(), plan, global)
			if err != nil {
				return err
			}

			if outputJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode result: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				printResult(cmd, result)
			}

			if !result.Success {
				return fmt.Errorf("execution %s finished with failures", result.ExecutionID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", string(optimizer.LevelStandard), "Optimization level (basic, standard, advanced, aggressive)")
	cmd.Flags().StringVar(&inputFile, "input", "", "JSON file with values for the shared run context")
	cmd.Flags().StringArrayVar(&contextVars, "context", nil, "key=value pair for the shared run context (repeatable)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full execution result as JSON")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Do not record the run in the execution history database")

	return cmd
}

// buildGlobalContext merges the optional input file with --context overrides.
func buildGlobalContext(inputFile string, contextVars []string) (map[string]interface{}, error) {
	global := make(map[string]interface{})

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		if err := json.Unmarshal(data, &global); err != nil {
			return nil, fmt.Errorf("failed to parse input JSON: %w", err)
		}
	}

	for _, pair := range contextVars {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --context value %q, expected key=value", pair)
		}
		global[key] = value
	}

	return global, nil
}

func printResult(cmd *cobra.Command, result *execution.Result) {
	out := cmd.OutOrStdout()

	if result.Success {
		_, _ = fmt.Fprintf(out, "✓ Execution %s completed in %s\n", result.ExecutionID, result.ExecutionTime)
	} else {
		_, _ = fmt.Fprintf(out, "✗ Execution %s finished with failures after %s\n", result.ExecutionID, result.ExecutionTime)
	}

	for i, level := range result.ExecutionOrder {
		for _, nodeID := range level {
			nodeResult, ok := result.Results[nodeID]
			if !ok {
				_, _ = fmt.Fprintf(out, "  [%d] - %s (not executed)\n", i, nodeID)
				continue
			}
			if nodeResult.Success {
				_, _ = fmt.Fprintf(out, "  [%d] ✓ %s (%s)\n", i, nodeID, nodeResult.ExecutionTime)
			} else {
				_, _ = fmt.Fprintf(out, "  [%d] ✗ %s: %s\n", i, nodeID, nodeResult.Error.Message)
			}
		}
	}
}
