// Package db provides the shared SQLite storage used by every stateful skill.
// Run records, queue items, heartbeats and friends all live in one WAL-mode
// database under the skillbox base path instead of ad hoc JSON files.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// BasePathEnv overrides the default ~/.skillbox base directory.
const BasePathEnv = "SKILLBOX_BASE_PATH"

// BasePath returns the directory that holds the database, audit logs and the vault.
func BasePath() (string, error) {
	if basePath := os.Getenv(BasePathEnv); basePath != "" {
		return basePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".skillbox"), nil
}

// DefaultDBPath returns the default path for the shared storage database.
func DefaultDBPath() (string, error) {
	base, err := BasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "storage.db"), nil
}

// Open opens or creates a SQLite database at the given path with optimal configuration.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies the given migrations.
func OpenWithMigrations(ctx context.Context, dbPath string, migrations []Migration) (*sqlx.DB, error) {
	sqlDB, err := Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	if err := NewMigrationRunner(sqlDB).Run(ctx, migrations); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return sqlDB, nil
}

// pragma is a connection setting applied on open. verify holds the value
// PRAGMA <name> reports once it is in effect; empty means it is not checked.
type pragma struct {
	name   string
	value  string
	verify string
}

var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", verify: "wal"},
	{name: "synchronous", value: "NORMAL"},
	{name: "cache_size", value: "1000"},
	{name: "temp_store", value: "memory"},
	{name: "busy_timeout", value: "5000"},
	{name: "foreign_keys", value: "ON", verify: "1"},
}

// Configure applies the storage pragmas and pins the pool to one connection.
func Configure(ctx context.Context, db *sqlx.DB) error {
	for _, p := range pragmas {
		stmt := "PRAGMA " + p.name + "=" + p.value
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", stmt)
		}
	}

	// single writer; every store relies on this for read-modify-write atomicity
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	return VerifyConfiguration(db)
}

// VerifyConfiguration checks that the pragmas Configure depends on are in effect.
func VerifyConfiguration(db *sqlx.DB) error {
	for _, p := range pragmas {
		if p.verify == "" {
			continue
		}
		var got string
		if err := db.Get(&got, "PRAGMA "+p.name); err != nil {
			return errors.Wrapf(err, "failed to query %s", p.name)
		}
		if !strings.EqualFold(got, p.verify) {
			return errors.Errorf("expected %s=%s, got %s", p.name, p.verify, got)
		}
	}
	return nil
}
