package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"MarginMirror/internal/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <up|down|status>",
	Short: "Apply or roll back the archive schema",
	Long: `Manage the Postgres schema under storage.migrations_dir.

  up     - apply all pending migrations
  down   - roll back the last migration
  status - list migrations and when each was applied`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

var pruneKeep int64

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived account snapshots older than --keep scans",
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(migrateCmd, pruneCmd)
	pruneCmd.Flags().Int64Var(&pruneKeep, "keep", 1000, "Scans to keep behind the newest")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, closer := newLogger("migrate")
	defer closer.Close()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, cfg.Storage.MigrationsDir, log)
	switch args[0] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Info().Msg("all migrations applied")
	case "down":
		if err := migrator.Down(ctx); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Info().Msg("last migration rolled back")
	case "status":
		status, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	}
	return nil
}

func runPrune(cmd *cobra.Command, _ []string) error {
	if pruneKeep < 0 {
		return errors.New("keep must not be negative")
	}
	ctx := cmd.Context()
	log, closer := newLogger("prune")
	defer closer.Close()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := persistence.NewSnapshotStore(db).Prune(ctx, pruneKeep)
	if err != nil {
		return err
	}
	log.Info().Int64("deleted", n).Int64("keep", pruneKeep).Msg("snapshots pruned")
	return nil
}
