package mysql

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every pending up migration and returns the resulting
// schema version.
func Migrate(cfg Config) (uint, error) {
	dsn, err := cfg.SessionDSN()
	if err != nil {
		return 0, err
	}
	parsed, err := driver.ParseDSN(dsn)
	if err != nil {
		return 0, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	parsed.MultiStatements = true

	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return 0, fmt.Errorf("mysql: open for migration: %w", err)
	}
	defer db.Close()

	target, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		return 0, fmt.Errorf("mysql: migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("mysql: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", target)
	if err != nil {
		return 0, fmt.Errorf("mysql: migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("mysql: migrate up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("mysql: migration version: %w", err)
	}
	return version, nil
}
