package database

import (
	"database/sql"
	"time"
)

// PermissionRecord is the persisted outcome of a permission request.
type PermissionRecord struct {
	Name      string
	Granted   bool
	UpdatedAt time.Time
}

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// IsGranted reports whether name was granted. Unknown permissions are not granted.
	IsGranted(name string) (bool, error)
	// SetGranted inserts or replaces the record for name.
	SetGranted(name string, granted bool) error
	// RevokePermission removes the record for name; removing an unknown record is not an error.
	RevokePermission(name string) error
	GetPermissions() ([]*PermissionRecord, error)
}
