// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package main

import (
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/realmgate/realmgate/internal/config"
	"github.com/realmgate/realmgate/internal/store"
)

// newMigrateCmd creates the migrate subcommand and its actions.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, and inspect schema migrations on the PostgreSQL database.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all applied migrations",
			RunE:  runMigrateDown,
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations forward, or backward if n is negative",
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateSteps,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			RunE:  runMigrateVersion,
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the schema version without running migrations",
			Long:  `Set the recorded schema version and clear the dirty flag. Use only to recover from a failed migration.`,
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateForce,
		},
	)

	return cmd
}

// migratorFromEnv builds a Migrator from DATABASE_URL or the config file.
func migratorFromEnv(cmd *cobra.Command) (*store.Migrator, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		cfg, err := config.Load(resolveConfigPath(), nil)
		if err != nil {
			return nil, err
		}
		databaseURL = cfg.Database.URL
	}
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("database URL is required: set DATABASE_URL or database.url in the config file")
	}

	cmd.Println("Connecting to database...")
	return store.NewMigrator(databaseURL)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := migratorFromEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Applying migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("direction", "up").Wrap(err)
	}

	cmd.Println("Migrations applied")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := migratorFromEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Rolling back migrations...")
	if err := m.Down(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("direction", "down").Wrap(err)
	}

	cmd.Println("Migrations rolled back")
	return nil
}

func runMigrateSteps(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("argument", args[0]).
			Errorf("steps requires an integer argument")
	}

	m, err := migratorFromEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Steps(n); err != nil {
		return oops.Code("MIGRATION_FAILED").With("steps", n).Wrap(err)
	}

	cmd.Printf("Applied %d migration step(s)\n", n)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	m, err := migratorFromEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	version, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
	}

	if version == 0 {
		cmd.Println("No migrations applied")
		return nil
	}
	if dirty {
		cmd.Printf("Version %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("Version %d\n", version)
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("argument", args[0]).
			Errorf("force requires an integer version")
	}

	m, err := migratorFromEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Force(version); err != nil {
		return oops.Code("MIGRATION_FAILED").With("version", version).Wrap(err)
	}

	cmd.Printf("Forced schema version to %d\n", version)
	return nil
}
