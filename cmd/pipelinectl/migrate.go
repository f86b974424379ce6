package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/article-pipeline-service/internal/database"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "Override the migrations directory")

	// withMigrator connects, runs fn and prints the resulting version.
	withMigrator := func(fn func(m *database.Migrator) error) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := database.New(ctx, &c.cfg.Database, c.logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		dir := c.cfg.Database.MigrationPath
		if path != "" {
			dir = path
		}
		m, err := database.NewMigrator(db, dir, c.logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if err := m.Close(); err != nil {
				c.logger.Error().Err(err).Msg("failed to close migrator")
			}
		}()

		if err := fn(m); err != nil {
			return err
		}
		status, err := m.Status()
		if err != nil {
			return err
		}
		return c.printJSON(status)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *database.Migrator) error {
					if err := m.Up(); err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *database.Migrator) error {
					c.logger.Warn().Msg("rolling back all migrations")
					if err := m.Down(); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations, negative to roll back",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				return withMigrator(func(m *database.Migrator) error {
					if err := m.Steps(n); err != nil {
						return fmt.Errorf("migrate steps: %w", err)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(*database.Migrator) error { return nil })
			},
		},
		&cobra.Command{
			Use:   "force V",
			Short: "Set the schema version without migrating, to recover a dirty state",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
				}
				return withMigrator(func(m *database.Migrator) error {
					return m.Force(v)
				})
			},
		},
		newDropCmd(withMigrator),
	)
	return cmd
}

func newDropCmd(withMigrator func(func(*database.Migrator) error) error) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table, for disposable environments only",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !confirm {
				return fmt.Errorf("refusing to drop without --yes")
			}
			return withMigrator(func(m *database.Migrator) error { return m.DropAll() })
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm dropping all tables")
	return cmd
}
