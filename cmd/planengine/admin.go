package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"planengine/internal/audit"
	"planengine/internal/auth"
	"planengine/internal/workspace"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workspace.Abs(flags.root())
			if err != nil {
				return err
			}
			ws, err := ensureWorkspace(root)
			if err != nil {
				return err
			}
			created, err := ws.Scaffold()
			if err != nil {
				return err
			}
			for _, path := range created {
				printf(cmd, "Created %s\n", path)
			}

			// Opening the engine applies the schema.
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()
			e.audit.Record(cmd.Context(), audit.Entry{
				Actor:  "cli",
				Action: audit.ActionWorkspaceInit,
				Meta:   map[string]any{"workspace": ws.Root, "created": len(created)},
			})
			printf(cmd, "Workspace ready: %s\n", ws.Root)
			return nil
		},
	}
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Data migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "legacy-status",
		Short: "Rewrite retired approval statuses to the current lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()
			changes, err := e.service.MigrateLegacyStatuses(cmd.Context(), "cli")
			if err != nil {
				return err
			}
			for _, ch := range changes {
				printf(cmd, "%s %s: %s -> %s\n", ch.Kind, ch.ID, ch.From, ch.To)
			}
			printf(cmd, "Migrated %d record(s)\n", len(changes))
			return nil
		},
	})
	return cmd
}

func newTokenCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Issue a bearer token for a directory user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()
			if _, err := e.resolver.Principal(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("user %s: %w", args[0], err)
			}
			if ttl == 0 {
				ttl = rt.cfg.Auth.TokenTTL
			}
			token, err := auth.NewManager(rt.cfg.Auth.Secret, rt.cfg.Auth.Issuer).GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl from config)")
	cmd.AddCommand(issue)
	return cmd
}
