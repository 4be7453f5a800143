package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tasklane/internal/clickup"
	"github.com/ashita-ai/tasklane/internal/config"
	"github.com/ashita-ai/tasklane/internal/identity"
	"github.com/ashita-ai/tasklane/internal/registry"
	"github.com/ashita-ai/tasklane/internal/slack"
	"github.com/ashita-ai/tasklane/internal/storage"
	"github.com/ashita-ai/tasklane/migrations"
)

// openStore connects to Postgres and applies pending migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			db.Close()
			a.logger.Info("migrations applied")
			return nil
		},
	}
}

func newSyncRegistryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync-registry",
		Short: "Mirror ClickUp spaces into the space registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			src := clickup.NewClient(a.cfg.ClickUpAPIToken, a.cfg.ClickUpTeamID, a.logger)
			report, err := registry.NewSyncer(src, db, a.logger).Sync(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderRegistryReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newSyncIdentitiesCmd(a *app) *cobra.Command {
	var dryRun, asJSON bool
	cmd := &cobra.Command{
		Use:   "sync-identities",
		Short: "Reconcile Slack and ClickUp members against profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			slackSrc := slack.NewClient(a.cfg.SlackBotToken, a.logger)
			clickupSrc := clickup.NewClient(a.cfg.ClickUpAPIToken, a.cfg.ClickUpTeamID, a.logger)
			report, err := identity.NewSyncer(db, a.logger).SyncAll(ctx, slackSrc, clickupSrc, dryRun)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderIdentityReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report proposed changes without writing them")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
