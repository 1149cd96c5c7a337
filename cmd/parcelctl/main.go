package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parcelwatch/parcelwatch/internal/store"
	"github.com/parcelwatch/parcelwatch/internal/store/postgres"
	"github.com/parcelwatch/parcelwatch/internal/store/sqlite"
)

var (
	driverFlag string
	dsnFlag    string
	sqliteFlag string
	rootCmd    = &cobra.Command{
		Use:   "parcelctl",
		Short: "Admin CLI for the parcelwatch database and portal",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&driverFlag, "driver", "d", "sqlite", "Database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "Postgres DSN (required for --driver postgres)")
	rootCmd.PersistentFlags().StringVar(&sqliteFlag, "db", "parcelwatch.db", "SQLite database path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore connects per the persistent flags. Callers must close the db.
func openStore(ctx context.Context) (store.Store, *sql.DB, error) {
	switch driverFlag {
	case "postgres":
		if dsnFlag == "" {
			return nil, nil, fmt.Errorf("--dsn required for postgres")
		}
		db, err := postgres.Open(dsnFlag)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewWithDB(db), db, nil
	case "sqlite":
		db, err := sqlite.Open(sqliteFlag)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlite.NewWithDB(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver: %s", driverFlag)
	}
}
