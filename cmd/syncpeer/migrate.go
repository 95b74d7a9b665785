package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/activitysync/db/postgres/migrations"
	"example.com/activitysync/internal/config"
)

var migrateList bool

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres migrations at POSTGRES_URL",
		RunE:  runMigrate,
	}
	cmd.Flags().BoolVar(&migrateList, "list", false, "print embedded migrations without connecting")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if migrateList {
		names, err := migrations.Names()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := openPool(cmd.Context(), cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	fmt.Fprintln(out, "migrations up to date")
	return nil
}
