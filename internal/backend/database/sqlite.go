package database

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS permissions (
		name TEXT PRIMARY KEY,
		granted INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// SQLite creates the database file on connect, so a successful ping is enough.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) IsGranted(name string) (bool, error) {
	row := s.db.QueryRow("SELECT granted FROM permissions WHERE name = ?", name)
	var granted bool
	if err := row.Scan(&granted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return granted, nil
}

func (s *SQLiteDatabase) SetGranted(name string, granted bool) error {
	_, err := s.db.Exec(`INSERT INTO permissions (name, granted, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET granted = excluded.granted, updated_at = excluded.updated_at`,
		name, granted, time.Now().UnixMilli())
	return err
}

func (s *SQLiteDatabase) RevokePermission(name string) error {
	_, err := s.db.Exec("DELETE FROM permissions WHERE name = ?", name)
	return err
}

func (s *SQLiteDatabase) GetPermissions() ([]*PermissionRecord, error) {
	rows, err := s.db.Query("SELECT name, granted, updated_at FROM permissions ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	records := []*PermissionRecord{}
	for rows.Next() {
		var record PermissionRecord
		var updatedAt int64
		if err := rows.Scan(&record.Name, &record.Granted, &updatedAt); err != nil {
			return nil, err
		}
		record.UpdatedAt = time.UnixMilli(updatedAt)
		records = append(records, &record)
	}
	return records, rows.Err()
}
