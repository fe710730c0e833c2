package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fedlab/fedflow/config"
	"github.com/fedlab/fedflow/internal/migration"
)

// runMigrate handles the migrate command and its subcommands.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "up":
		runMigrateUp(args[1:])
	case "down":
		runMigrateDown(args[1:])
	case "status":
		runMigrateStatus(args[1:])
	case "version":
		runMigrateVersion(args[1:])
	case "reset":
		runMigrateReset(args[1:])
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  fedflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  fedflow migrate up
  fedflow migrate up --config /etc/fedflow/config.yaml
  fedflow migrate down
  fedflow migrate status
  fedflow migrate up --db-type sqlite --db-url "file:fedflow.db?mode=rwc"`)
}

// newMigrator builds a migrator from flags, falling back to the
// configuration file for connection details.
func newMigrator(name string, args []string) (*migration.Migrator, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		parsed, err := migration.ParseDatabaseType(*dbType)
		if err != nil {
			return nil, err
		}
		return migration.New(&migration.Config{
			DatabaseType: parsed,
			DatabaseURL:  *dbURL,
		})
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	parsed, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	db := cfg.Database
	url := migration.BuildDatabaseURL(parsed, db.Host, db.Port, db.Name, db.User, db.Password, db.SSLMode)
	return migration.New(&migration.Config{
		DatabaseType: parsed,
		DatabaseURL:  url,
	})
}

func runMigrateUp(args []string) {
	m, err := newMigrator("migrate up", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}

func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	rebuilt := []string{}
	if *configPath != "" {
		rebuilt = append(rebuilt, "--config", *configPath)
	}
	if *dbType != "" {
		rebuilt = append(rebuilt, "--db-type", *dbType)
	}
	if *dbURL != "" {
		rebuilt = append(rebuilt, "--db-url", *dbURL)
	}

	m, err := newMigrator("migrate down", rebuilt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if *all {
		err = m.DownAll()
	} else {
		err = m.Down()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Rollback complete")
}

func runMigrateStatus(args []string) {
	m, err := newMigrator("migrate status", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	statuses, err := m.Statuses()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Version  Applied  Name")
	for _, st := range statuses {
		applied := "no"
		if st.Applied {
			applied = "yes"
		}
		if st.Dirty {
			applied = "dirty"
		}
		fmt.Printf("%-8d %-8s %s\n", st.Version, applied, st.Name)
	}
}

func runMigrateVersion(args []string) {
	m, err := newMigrator("migrate version", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get version: %v\n", err)
		os.Exit(1)
	}
	if dirty {
		fmt.Printf("Version: %d (dirty)\n", version)
	} else {
		fmt.Printf("Version: %d\n", version)
	}
}

func runMigrateReset(args []string) {
	m, err := newMigrator("migrate reset", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.DownAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All migrations rolled back")
}
