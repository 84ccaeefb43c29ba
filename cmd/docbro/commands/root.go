// Package commands implements the docbro CLI.
package commands

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/project"
	"github.com/docbro/docbro/pkg/store"
	"github.com/docbro/docbro/pkg/upload"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	flagDataDir   string
	flagConfigDir string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "docbro",
	Short: "docbro - typed-project documentation and file ingestion",
	Long: `docbro ingests web pages, documents and arbitrary files into typed
projects (crawling, data, storage) with layered configuration, multi-source
uploads and a JSON-RPC server for external clients.

Use "docbro [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return logger.Init(logger.Config{Level: flagLogLevel, Format: flagLogFormat})
	},
}

// Execute runs the CLI. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: $XDG_DATA_HOME/docbro)")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "config directory (default: $XDG_CONFIG_HOME/docbro)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(operationsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("docbro %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func dataDir() string {
	if flagDataDir != "" {
		return flagDataDir
	}
	return config.DefaultDataDir()
}

func configDir() string {
	if flagConfigDir != "" {
		return flagConfigDir
	}
	return config.DefaultConfigDir()
}

// app bundles the wired subsystem managers for one CLI invocation.
type app struct {
	registry *store.Registry
	resolver *config.Resolver
	factory  *project.Factory
	projects *project.Manager
	uploads  *upload.Manager
}

// newApp opens the registry and wires the managers. ask answers interactive
// conflict prompts; nil degrades the ask policy to skip.
func newApp(ask project.AskFunc) (*app, error) {
	registry, err := store.OpenRegistry(filepath.Join(dataDir(), store.RegistryFileName))
	if err != nil {
		return nil, err
	}

	resolver := config.NewResolver(dataDir(), configDir(), project.TypeLookup(registry))

	var pm *project.Manager
	deps := project.Deps{
		Resolver: resolver,
		DB: func(ctx context.Context, p *project.Project) (*store.ProjectDB, error) {
			return pm.OpenDB(ctx, p)
		},
		Ask: ask,
	}
	factory, err := project.DefaultFactory(deps)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	pm, err = project.NewManager(project.ManagerOptions{
		Registry: registry,
		Resolver: resolver,
		Factory:  factory,
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	um, err := upload.NewManager(upload.ManagerOptions{
		Projects: pm,
		Factory:  factory,
		Registry: registry,
		Resolver: resolver,
	})
	if err != nil {
		_ = pm.Close()
		_ = registry.Close()
		return nil, err
	}

	return &app{
		registry: registry,
		resolver: resolver,
		factory:  factory,
		projects: pm,
		uploads:  um,
	}, nil
}

func (a *app) Close() {
	if err := a.uploads.CloseSources(); err != nil {
		logger.Warn("source cleanup failed", logger.KeyError, err.Error())
	}
	if err := a.projects.Close(); err != nil {
		logger.Warn("project db cleanup failed", logger.KeyError, err.Error())
	}
	if err := a.registry.Close(); err != nil {
		logger.Warn("registry close failed", logger.KeyError, err.Error())
	}
}
