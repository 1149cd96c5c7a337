package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parcelwatch/parcelwatch/internal/store/postgres"
	"github.com/parcelwatch/parcelwatch/internal/store/sqlite"
)

func init() {
	schemaCmd := &cobra.Command{Use: "schema", Short: "Database schema operations"}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create tables and indexes if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			switch driverFlag {
			case "postgres":
				if dsnFlag == "" {
					return fmt.Errorf("--dsn required for postgres")
				}
				db, err := postgres.Open(dsnFlag)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				if err := postgres.EnsureSchema(ctx, db); err != nil {
					return err
				}
			case "sqlite":
				db, err := sqlite.Open(sqliteFlag)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				if err := sqlite.EnsureSchema(ctx, db); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported driver: %s", driverFlag)
			}
			fmt.Fprintln(os.Stdout, "schema ready")
			return nil
		},
	}
	schemaCmd.AddCommand(initCmd)

	rootCmd.AddCommand(schemaCmd)
}
