// internal/database/migration.go
package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrator applies the journal schema migrations
type Migrator struct {
	db     *DB
	path   string
	logger *zap.Logger
}

// NewMigrator creates a migrator reading migrations from path
func NewMigrator(db *DB, path string, logger *zap.Logger) *Migrator {
	if path == "" {
		path = "migrations"
	}
	return &Migrator{
		db:     db,
		path:   path,
		logger: logger,
	}
}

// SourceURL returns the file source URL for the migrations directory
func (m *Migrator) SourceURL() (string, error) {
	migrationsPath, err := filepath.Abs(m.path)
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}
	return "file://" + filepath.ToSlash(migrationsPath), nil
}

// Up runs all up migrations
func (m *Migrator) Up() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get version: %w", err)
	}
	m.logger.Info("Journal migrations completed",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Down rolls back every migration
func (m *Migrator) Down() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	m.logger.Info("Journal migrations rolled back")
	return nil
}

func (m *Migrator) createMigrator() (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceURL, err := m.SourceURL()
	if err != nil {
		return nil, err
	}

	migrator, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return migrator, nil
}
