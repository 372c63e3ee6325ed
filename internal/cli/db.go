package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tpott/diy-ralph/internal/db"
)

var (
	dbRollbackSteps int
	dbPruneKeep     int
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the iteration database",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database health and schema version",
	RunE:  runDBStatus,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDBMigrate,
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent schema migrations",
	RunE:  runDBRollback,
}

var dbPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete iteration history for all but the most recent runs",
	RunE:  runDBPrune,
}

func init() {
	dbRollbackCmd.Flags().IntVar(&dbRollbackSteps, "steps", 1, "number of migrations to roll back")
	dbPruneCmd.Flags().IntVar(&dbPruneKeep, "keep", 10, "number of recent runs to keep")
	dbCmd.AddCommand(dbStatusCmd, dbMigrateCmd, dbRollbackCmd, dbPruneCmd)
	rootCmd.AddCommand(dbCmd)
}

func openDatabase() (*db.DB, error) {
	cfg := GetConfig()
	database, err := db.Open(db.Config{
		Path:          cfg.Database.Path,
		MaxOpenConns:  cfg.Database.MaxConnections,
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.HealthCheck(cmd.Context()); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	version, err := database.SchemaVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	fmt.Printf("Database: %s\n", GetConfig().Database.Path)
	fmt.Printf("Health:   %s\n", colorize("ok", colorGreen))
	fmt.Printf("Schema:   version %d\n", version)
	return nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := database.MigrateUp(cmd.Context())
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	fmt.Printf("Applied %d migration(s)\n", applied)
	return nil
}

func runDBRollback(cmd *cobra.Command, args []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	rolled, err := database.MigrateDown(cmd.Context(), dbRollbackSteps)
	if err != nil {
		return fmt.Errorf("rollback database: %w", err)
	}
	fmt.Printf("Rolled back %d migration(s)\n", rolled)
	return nil
}

func runDBPrune(cmd *cobra.Command, args []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	repo := db.NewIterationRepository(database)
	pruned, err := repo.PruneRuns(cmd.Context(), dbPruneKeep)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d run(s), kept the %d most recent\n", pruned, dbPruneKeep)
	return nil
}
