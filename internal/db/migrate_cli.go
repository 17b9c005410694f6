package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the "migrate" subcommand against dbPath.
// Supported actions are up, down, status and force <version>.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	migFS, err := getMigrationsFS()
	if err != nil {
		return err
	}
	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(migFS); err != nil {
			return err
		}
		fmt.Fprintln(w, "all migrations applied")
	case "down":
		if err := database.MigrateDown(migFS); err != nil {
			return err
		}
		fmt.Fprintln(w, "rolled back one migration")
	case "status":
		current, dirty, err := database.MigrateVersion(migFS)
		if err != nil {
			return err
		}
		latest, err := LatestMigrationVersion(migFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "current version: %d\nlatest version:  %d\ndirty:           %v\n", current, latest, dirty)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(migFS, v); err != nil {
			return err
		}
		fmt.Fprintf(w, "forced version %d\n", v)
	case "help":
		PrintMigrateHelp(w)
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: cotrend migrate <action>

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show current and latest schema versions
  force <version>    set the schema version without running migrations
`)
}
