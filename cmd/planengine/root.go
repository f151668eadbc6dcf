package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"planengine/internal/config"
	"planengine/internal/logging"
	"planengine/internal/workspace"
)

type globalFlags struct {
	workspace string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Plan and goal execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", "", "Path to workspace root (default: $PLANENGINE_WORKSPACE or .)")

	root.AddCommand(
		newInitCmd(flags),
		newServeCmd(flags),
		newDaemonCmd(flags),
		newJobsCmd(flags),
		newMigrateCmd(flags),
		newTokenCmd(flags),
	)
	return root
}

func (g *globalFlags) root() string {
	if strings.TrimSpace(g.workspace) != "" {
		return g.workspace
	}
	if env := os.Getenv(config.EnvPrefix + "_WORKSPACE"); env != "" {
		return env
	}
	return "."
}

// runtime is the loaded workspace, configuration and logger shared by
// every command.
type runtime struct {
	ws  *workspace.Workspace
	cfg *config.Config
	log *slog.Logger
}

func (g *globalFlags) load() (*runtime, error) {
	ws, err := workspace.Resolve(g.root())
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return &runtime{ws: ws, cfg: cfg, log: log}, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func ensureWorkspace(root string) (*workspace.Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return workspace.Resolve(root)
}
