// Command migrate applies or rolls back the generic entities table schema
// against either sqlite or postgres, grounded on the teacher's
// internal/db/migrate.go NewMigrator (golang-migrate over an embedded iofs
// source) and its cmd/migrate/main.go flag/command shape.
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"database/sql"
)

//go:embed all:migrations/sqlite
var sqliteMigrations embed.FS

//go:embed all:migrations/postgres
var postgresMigrations embed.FS

func main() {
	driver := flag.String("driver", "sqlite", "Database driver: sqlite or postgres")
	dsn := flag.String("dsn", "entities.db", "Data source name (file path for sqlite, connection string for postgres)")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	m, err := newMigrator(*driver, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch flag.Arg(0) {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("entities schema is up to date")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("entities schema rolled back")
	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied yet")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read migration status: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("version %d (dirty=%v)\n", version, dirty)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: migrate [up|down|status] [-driver sqlite|postgres] [-dsn ...]")
}

// newMigrator opens dsn with driver and returns a golang-migrate instance
// sourced from the embedded per-driver migration set.
func newMigrator(driverName, dsn string) (*migrate.Migrate, error) {
	var migrationFS fs.FS
	var err error

	switch driverName {
	case "sqlite":
		migrationFS, err = fs.Sub(sqliteMigrations, "migrations/sqlite")
	case "postgres":
		migrationFS, err = fs.Sub(postgresMigrations, "migrations/postgres")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("open embedded migration set: %w", err)
	}

	source, err := iofs.New(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	sqlDriverName := "sqlite"
	if driverName == "postgres" {
		sqlDriverName = "postgres"
	}
	conn, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var dbDriver database.Driver
	switch driverName {
	case "sqlite":
		dbDriver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	case "postgres":
		dbDriver, err = migratepostgres.WithInstance(conn, &migratepostgres.Config{})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create %s migration driver: %w", driverName, err)
	}

	return migrate.NewWithInstance("iofs", source, driverName, dbDriver)
}
