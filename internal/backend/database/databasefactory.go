package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

func NewDatabase(databaseType, connectionString string) (database DatabaseService, err error) {
	switch databaseType {
	case "sqlite":
		if err := ensureParentDir(connectionString); err != nil {
			return nil, err
		}
		database, err = NewSQLiteDatabase(connectionString)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}

	// Schema creation is idempotent; in-memory databases start empty.
	slog.Debug("initializing database schema", "type", databaseType)
	if _, err = database.CreateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}

// ensureParentDir creates the directory of a plain file path. URIs and
// in-memory databases are left alone.
func ensureParentDir(connectionString string) error {
	if connectionString == "" || strings.HasPrefix(connectionString, ":memory:") || strings.HasPrefix(connectionString, "file:") {
		return nil
	}
	dir := filepath.Dir(connectionString)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
