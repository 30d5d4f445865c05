package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mkcompany/internal/platform/config"
	"mkcompany/internal/platform/migrate"
	"mkcompany/internal/platform/postgres"
)

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withManager := func(run func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is required for migrations")
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return run(ctx, migrate.NewManager(db))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("schema is up to date")
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if err != nil {
				return err
			}
			fmt.Println("reverted", name)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Status(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		}),
	})
	return cmd
}
