package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Strob0t/hitl/internal/adapter/postgres"
	"github.com/Strob0t/hitl/internal/config"
)

// newMigrateCmd manages the audit archive schema.
func newMigrateCmd(flags *config.FlagBinding) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit archive schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				dsn, done, err := migrationDSN(flags)
				if err != nil {
					return err
				}
				defer done()
				if err := postgres.RunMigrations(cmd.Context(), dsn); err != nil {
					return err
				}
				cmd.Println("migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the last migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				dsn, done, err := migrationDSN(flags)
				if err != nil {
					return err
				}
				defer done()
				if err := postgres.RollbackMigrations(cmd.Context(), dsn, steps); err != nil {
					return err
				}
				cmd.Printf("rolled back %d migration(s)\n", steps)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				dsn, done, err := migrationDSN(flags)
				if err != nil {
					return err
				}
				defer done()
				v, err := postgres.MigrationVersion(cmd.Context(), dsn)
				if err != nil {
					return err
				}
				cmd.Println(v)
				return nil
			},
		},
	)
	return cmd
}

func migrationDSN(flags *config.FlagBinding) (string, func(), error) {
	cfg, done, err := setup(flags)
	if err != nil {
		return "", nil, err
	}
	if cfg.Postgres.DSN == "" {
		done()
		return "", nil, errors.New("no database configured: set DATABASE_URL or --dsn")
	}
	return cfg.Postgres.DSN, done, nil
}
