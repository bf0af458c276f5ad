package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogizer/database"
)

func newMockFolderRepo(t *testing.T) (*FolderRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewFolderRepository(database.WrapDB(sqlDB)), mock
}

func TestFolderRepositoryGetOrCreateReturnsExisting(t *testing.T) {
	repo, mock := newMockFolderRepo(t)
	mock.ExpectQuery("SELECT id, mrl, parent_id, device_id FROM folders WHERE mrl").
		WithArgs("music/pink_floyd", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "mrl", "parent_id", "device_id"}).
			AddRow(int64(3), "music/pink_floyd", nil, int64(1)))

	f, err := repo.GetOrCreate(context.Background(), "music/pink_floyd", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.ID)
}

func TestFolderRepositoryGetOrCreateCreatesWhenMissing(t *testing.T) {
	repo, mock := newMockFolderRepo(t)
	parentID := int64(2)

	mock.ExpectQuery("SELECT id, mrl, parent_id, device_id FROM folders WHERE mrl").
		WithArgs("music/pink_floyd/the_wall", int64(1)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO folders").
		WithArgs("music/pink_floyd/the_wall", &parentID, int64(1)).
		WillReturnResult(sqlmock.NewResult(9, 1))

	f, err := repo.GetOrCreate(context.Background(), "music/pink_floyd/the_wall", &parentID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), f.ID)
	assert.Equal(t, &parentID, f.ParentID)
}

func TestFolderRepositoryDeviceIDForFolder(t *testing.T) {
	repo, mock := newMockFolderRepo(t)
	mock.ExpectQuery("SELECT device_id FROM folders WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow(int64(1)))

	id, err := repo.DeviceIDForFolder(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestFolderRepositoryDeviceIDForFolderReturnsNotFound(t *testing.T) {
	repo, mock := newMockFolderRepo(t)
	mock.ExpectQuery("SELECT device_id FROM folders WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.DeviceIDForFolder(context.Background(), 99)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func newMockDeviceRepo(t *testing.T) (*DeviceRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewDeviceRepository(database.WrapDB(sqlDB)), mock
}

func TestDeviceRepositoryGetOrCreateReturnsExisting(t *testing.T) {
	repo, mock := newMockDeviceRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, uuid, scheme, is_removable, is_present, last_seen FROM devices WHERE uuid").
		WithArgs("device-uuid").
		WillReturnRows(sqlmock.NewRows([]string{"id", "uuid", "scheme", "is_removable", "is_present", "last_seen"}).
			AddRow(int64(1), "device-uuid", "smb", true, true, now))

	d, err := repo.GetOrCreate(context.Background(), "device-uuid", "smb", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	assert.True(t, d.IsPresent)
}

func TestDeviceRepositoryGetOrCreateCreatesWhenMissing(t *testing.T) {
	repo, mock := newMockDeviceRepo(t)
	mock.ExpectQuery("SELECT id, uuid, scheme, is_removable, is_present, last_seen FROM devices WHERE uuid").
		WithArgs("new-device").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO devices").
		WithArgs("new-device", "file", false).
		WillReturnResult(sqlmock.NewResult(4, 1))

	d, err := repo.GetOrCreate(context.Background(), "new-device", "file", false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), d.ID)
	assert.True(t, d.IsPresent, "newly created devices default to present")
}

func TestDeviceRepositorySetPresentAndIsPresent(t *testing.T) {
	repo, mock := newMockDeviceRepo(t)

	mock.ExpectExec("UPDATE devices SET is_present").
		WithArgs(false, sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetPresent(context.Background(), 1, false))

	mock.ExpectQuery("SELECT is_present FROM devices WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"is_present"}).AddRow(false))

	present, err := repo.IsPresent(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, present)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepositoryIsPresentReturnsNotFound(t *testing.T) {
	repo, mock := newMockDeviceRepo(t)
	mock.ExpectQuery("SELECT is_present FROM devices WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.IsPresent(context.Background(), 99)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
