package main

import (
	"fmt"

	"github.com/camdenward/leadline/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
	}
	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create tables and seed agents from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(conn); err != nil {
				return err
			}
			if err := db.SeedAgents(conn, cfg.Agents); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables, seeded %d agents\n",
				len(db.AllModels()), len(cfg.Agents))
			return nil
		},
	}
}

func newDBResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all tables, then re-create and re-seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("db reset destroys all data; re-run with --force")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.DropAll(conn); err != nil {
				return err
			}
			if err := db.AutoMigrate(conn); err != nil {
				return err
			}
			if err := db.SeedAgents(conn, cfg.Agents); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d tables, seeded %d agents\n",
				len(db.AllModels()), len(cfg.Agents))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm destructive reset")
	return cmd
}
