// Copyright 2024-2026 Aiku AI

// Package store persists federation state in SQLite. Uniqueness of external
// ids is enforced at the schema level so concurrent duplicate delivery
// resolves to a single record regardless of in-process interleaving.
package store

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the SQLite database at path and applies pending
// migrations. A path of ":memory:" yields an ephemeral database; the
// connection pool is capped at one so every query sees the same in-memory
// instance.
func Open(path string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := applyMigrations(db, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyMigrations(db *sqlx.DB, log zerolog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Debug().
		Uint("schema_version", version).
		Bool("dirty", dirty).
		Msg("Database migrations applied")
	return nil
}
