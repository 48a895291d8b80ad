// Package cli implements the flowforge command line interface.
package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	// Version is the current version of flowforge
	Version = "1.0.0"
)

// Config holds the global configuration for the flowforge CLI
type Config struct {
	ConfigDir string
	Debug     bool
}

// GlobalConfig is the shared configuration instance
var GlobalConfig = &Config{}

// NewRootCommand creates the root cobra command for flowforge
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowforge",
		Short: "flowforge - workflow graph optimization and execution",
		Long: `flowforge validates, optimizes and executes workflow graphs.

A workflow is a DAG of typed nodes described in YAML or JSON. flowforge
analyzes the graph, rewrites it with cost-based optimization rules, derives
a leveled execution order and runs the nodes with data-flow wiring, retries
and circuit breaking.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			if GlobalConfig.Debug {
				log.SetOutput(os.Stderr)
				log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
			} else {
				log.SetOutput(io.Discard)
			}

			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&GlobalConfig.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&GlobalConfig.ConfigDir, "config-dir", "", "Configuration directory (default: ~/.flowforge)")

	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewOptimizeCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}

// initConfig initializes the flowforge configuration directory
func initConfig() error {
	// Environment variable always takes priority (for testing)
	if envDir := os.Getenv("FLOWFORGE_CONFIG_DIR"); envDir != "" {
		GlobalConfig.ConfigDir = envDir
	} else if GlobalConfig.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		GlobalConfig.ConfigDir = filepath.Join(homeDir, ".flowforge")
	}

	if err := os.MkdirAll(GlobalConfig.ConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// GetConfigDir returns the configuration directory path.
// Priority order: 1) FLOWFORGE_CONFIG_DIR env var (for testing), 2) GlobalConfig.ConfigDir, 3) ~/.flowforge
func GetConfigDir() string {
	if envDir := os.Getenv("FLOWFORGE_CONFIG_DIR"); envDir != "" {
		return envDir
	}
	if GlobalConfig.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ".flowforge"
		}
		return filepath.Join(homeDir, ".flowforge")
	}
	return GlobalConfig.ConfigDir
}

// GetDatabasePath returns the path of the execution history database.
func GetDatabasePath() string {
	return filepath.Join(GetConfigDir(), "flowforge.db")
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}
