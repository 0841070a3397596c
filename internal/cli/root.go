package cli

import (
	"context"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/toolharbor/toolharbor/pkg/buildinfo"
)

// Execute runs the harbord CLI and returns an error if any command fails.
//
// The root command wires the subcommands (ingest, serve, status, cache),
// configures logging from the --verbose flag, and attaches the logger to
// the command context where all subcommands retrieve it via
// loggerFromContext.
func Execute() error {
	var (
		verbose    bool
		configPath string
	)

	root := &cobra.Command{
		Use:          "harbord",
		Short:        "harbord harvests and scores tool-server packages",
		Long:         `harbord is the ToolHarbor ingestion daemon. It harvests package metadata, manifests, and source files from registries, code hosts, container registries, and live endpoints, runs static security analysis, scores each package, and serves the resulting catalog.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			ctx := withLogger(cmd.Context(), newLogger(os.Stderr, level))
			cmd.SetContext(ctx)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(newIngestCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))
	root.AddCommand(newCacheCmd(&configPath))

	return root.ExecuteContext(context.Background())
}
