package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/storechat/storechat/internal/config"
)

var migrationsDir string

// withMigrator resolves the DSN and migrations source, runs fn, and
// closes the migrator. The DSN comes from the environment only, never
// from the config file.
func withMigrator(fn func(*migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("STORECHAT_POSTGRES_DSN environment variable is not set")
	}

	dir := migrationsDir
	if dir == "" {
		dir = os.Getenv("STORECHAT_MIGRATIONS_DIR")
	}
	if dir == "" {
		// ./migrations next to the executable, as shipped in the image.
		if exe, err := os.Executable(); err == nil {
			dir = filepath.Join(filepath.Dir(exe), "migrations")
		} else {
			dir = "migrations"
		}
	}

	m, err := migrate.New("file://"+dir, cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	return fn(m)
}

func logVersion(m *migrate.Migrate, msg string) {
	v, dirty, _ := m.Version()
	slog.Info(msg, "version", v, "dirty", dirty)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && err != migrate.ErrNoChange {
					return fmt.Errorf("migrate up: %w", err)
				}
				logVersion(m, "migration complete")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if steps <= 0 {
					steps = 1
				}
				if err := m.Steps(-steps); err != nil && err != migrate.ErrNoChange {
					return fmt.Errorf("migrate down: %w", err)
				}
				logVersion(m, "rollback complete")
				return nil
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("get version: %w", err)
				}
				fmt.Printf("version: %d, dirty: %v\n", v, dirty)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced version", "version", version)
				return nil
			})
		},
	})

	return cmd
}
