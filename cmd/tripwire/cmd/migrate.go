package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage SQL job store migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Store.DBURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	if err := db.MigrateUp(ctx, conn, logger); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	logger.Info().Msg("migrations up to date")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Store.DBURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	statuses, err := db.MigrateStatus(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATUS\tAPPLIED AT\tDURATION")
	for _, s := range statuses {
		if !s.Applied {
			fmt.Fprintf(tw, "%s\tpending\t-\t-\n", s.ID)
			continue
		}
		fmt.Fprintf(tw, "%s\tapplied\t%s\t%dms\n", s.ID, s.AppliedAt.Format(time.RFC3339), s.ExecutionMs)
	}
	return tw.Flush()
}
