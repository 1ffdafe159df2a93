// Package cmd provides the CLI commands for operating the retrieval
// core without the desktop shell: indexing, searching, registry
// inspection, watching, and cleanup.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/attractor-desk/ragcore/internal/config"
	"github.com/attractor-desk/ragcore/internal/logging"
	"github.com/attractor-desk/ragcore/pkg/version"
)

var (
	configPath     string
	dataDir        string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragcore",
		Short: "Hybrid lexical+vector retrieval core",
		Long: `ragcore indexes documents into a local hybrid index (SQLite FTS5 +
vector store) and serves ranked, scope-filtered passages with
citations.

Embedding and PDF conversion are external collaborators; without them
the core still serves lexical retrieval.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("ragcore version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: <data-dir>/config.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRegistryCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig resolves the effective configuration from flags and file.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	path := configPath
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	loaded, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		loaded.DataDir = dataDir
	}
	return loaded, nil
}

func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
