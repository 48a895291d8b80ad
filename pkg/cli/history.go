package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/pkg/domain/types"
	"github.com/flowforge/flowforge/pkg/storage"
)

// NewHistoryCommand creates the history command group
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the execution history",
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func openHistory() (*storage.SQLiteAuditRepository, error) {
	repo, err := storage.NewSQLiteAuditRepositoryWithPath(GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open execution history: %w", err)
	}
	return repo, nil
}

func newHistoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <workflow-id>",
		Short: "List recorded runs of a workflow, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			records, err := repo.ListRunsByWorkflow(types.WorkflowID(args[0]))
			if err != nil {
				return err
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No recorded runs for workflow %s\n", args[0])
				return nil
			}

			for _, record := range records {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %s  %s\n",
					record.ExecutionID, record.Status,
					record.StartedAt.Format("2006-01-02 15:04:05"), record.ExecutionTime)
			}
			return nil
		},
	}
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one run with its per-node results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			executionID := types.ExecutionID(args[0])
			run, err := repo.LoadRun(executionID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Execution: %s\n", run.ExecutionID)
			_, _ = fmt.Fprintf(out, "Workflow:  %s\n", run.WorkflowID)
			_, _ = fmt.Fprintf(out, "Status:    %s\n", run.Status)
			_, _ = fmt.Fprintf(out, "Duration:  %s\n", run.ExecutionTime)

			nodes, err := repo.ListNodeResults(executionID)
			if err != nil {
				return err
			}
			for _, node := range nodes {
				if node.Success {
					_, _ = fmt.Fprintf(out, "  ✓ %s (%s, %s)\n", node.NodeID, node.NodeType, node.ExecutionTime)
				} else {
					_, _ = fmt.Fprintf(out, "  ✗ %s (%s) [%s]: %s\n",
						node.NodeID, node.NodeType, node.ErrorCategory, node.ErrorMessage)
				}
			}
			return nil
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <execution-id>",
		Short: "Delete one recorded run and its node results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			if err := repo.DeleteRun(types.ExecutionID(args[0])); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
