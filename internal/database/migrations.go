package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator применяет встроенные SQL-миграции.
type Migrator struct {
	dsn    string
	logger *zap.Logger
}

// NewMigrator создает мигратор для базы по DSN.
func NewMigrator(dsn string, logger *zap.Logger) *Migrator {
	return &Migrator{dsn: dsn, logger: logger.Named("Migrator")}
}

// Up применяет все доступные миграции.
func (m *Migrator) Up() error {
	return m.run(func(mg *migrate.Migrate) error { return mg.Up() }, "applied")
}

// Down откатывает все миграции.
func (m *Migrator) Down() error {
	return m.run(func(mg *migrate.Migrate) error { return mg.Down() }, "rolled back")
}

// Version возвращает текущую версию схемы. Для пустой базы - (0, false, nil).
func (m *Migrator) Version() (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := m.withMigrate(func(mg *migrate.Migrate) error {
		v, d, err := mg.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		version, dirty = v, d
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) run(step func(*migrate.Migrate) error, verb string) error {
	err := m.withMigrate(func(mg *migrate.Migrate) error {
		if err := step(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	m.logger.Info("Database migrations " + verb)
	return nil
}

func (m *Migrator) withMigrate(fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", m.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = 30 * time.Second
	defer func() {
		if srcErr, dbErr := mg.Close(); srcErr != nil || dbErr != nil {
			m.logger.Warn("Failed to close migrator", zap.NamedError("source", srcErr), zap.NamedError("db", dbErr))
		}
	}()
	return fn(mg)
}
