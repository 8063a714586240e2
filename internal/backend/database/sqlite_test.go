package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) DatabaseService {
	t.Helper()

	ds, err := NewSQLiteDatabase(":memory:")
	require.NoError(t, err)
	_, err = ds.CreateDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func TestSQLite_DoesDatabaseExist(t *testing.T) {
	ds := newTestDB(t)
	assert.True(t, ds.DoesDatabaseExist())
}

func TestSQLite_UnknownPermissionIsNotGranted(t *testing.T) {
	ds := newTestDB(t)

	granted, err := ds.IsGranted("camera")
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestSQLite_SetGrantedUpserts(t *testing.T) {
	ds := newTestDB(t)

	require.NoError(t, ds.SetGranted("camera", true))
	granted, err := ds.IsGranted("camera")
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, ds.SetGranted("camera", false))
	granted, err = ds.IsGranted("camera")
	require.NoError(t, err)
	assert.False(t, granted, "expected camera to be denied after update")

	records, err := ds.GetPermissions()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "camera", records[0].Name)
	assert.False(t, records[0].UpdatedAt.IsZero())
}

func TestSQLite_RevokePermission(t *testing.T) {
	ds := newTestDB(t)

	require.NoError(t, ds.SetGranted("camera", true))
	require.NoError(t, ds.RevokePermission("camera"))
	require.NoError(t, ds.RevokePermission("camera"), "revoking a missing record is not an error")

	granted, err := ds.IsGranted("camera")
	require.NoError(t, err)
	assert.False(t, granted)

	records, err := ds.GetPermissions()
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestSQLite_GrantSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "permissions.db")

	first, err := NewDatabase("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, first.SetGranted("camera", true))
	require.NoError(t, first.Close())

	second, err := NewDatabase("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	granted, err := second.IsGranted("camera")
	require.NoError(t, err)
	assert.True(t, granted, "expected grant to persist across reopen")
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase("postgres", "ignored")
	assert.Error(t, err)
}
