package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"catalogizer/database"
	"catalogizer/models"
)

// FolderRepository provides CRUD for Folder rows.
type FolderRepository struct {
	db *database.DB
}

// NewFolderRepository constructs a FolderRepository.
func NewFolderRepository(db *database.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

// GetOrCreate finds a folder by (mrl, deviceID) or creates one.
func (r *FolderRepository) GetOrCreate(ctx context.Context, mrl string, parentID *int64, deviceID int64) (*models.Folder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, mrl, parent_id, device_id FROM folders WHERE mrl = ? AND device_id = ?`, mrl, deviceID)
	var f models.Folder
	err := row.Scan(&f.ID, &f.Mrl, &f.ParentID, &f.DeviceID)
	if err == nil {
		return &f, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup folder %q: %w", mrl, err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO folders (mrl, parent_id, device_id) VALUES (?, ?, ?)`, mrl, parentID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("create folder %q: %w", mrl, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create folder %q: %w", mrl, err)
	}
	return &models.Folder{ID: id, Mrl: mrl, ParentID: parentID, DeviceID: deviceID}, nil
}

// DeviceIDForFolder returns the device a folder belongs to, used by the
// worker pool's removable-device short-circuit (spec §4.3).
func (r *FolderRepository) DeviceIDForFolder(ctx context.Context, folderID int64) (int64, error) {
	var deviceID int64
	err := r.db.QueryRowContext(ctx, `SELECT device_id FROM folders WHERE id = ?`, folderID).Scan(&deviceID)
	if err == sql.ErrNoRows {
		return 0, database.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("device for folder %d: %w", folderID, err)
	}
	return deviceID, nil
}

// DeviceRepository provides CRUD and presence tracking for Device rows.
type DeviceRepository struct {
	db *database.DB
}

// NewDeviceRepository constructs a DeviceRepository.
func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetOrCreate finds a device by its uuid or creates one present by default.
func (r *DeviceRepository) GetOrCreate(ctx context.Context, uuid, scheme string, isRemovable bool) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, uuid, scheme, is_removable, is_present, last_seen FROM devices WHERE uuid = ?`, uuid)
	var d models.Device
	err := row.Scan(&d.ID, &d.UUID, &d.Scheme, &d.IsRemovable, &d.IsPresent, &d.LastSeen)
	if err == nil {
		return &d, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup device %q: %w", uuid, err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (uuid, scheme, is_removable, is_present) VALUES (?, ?, ?, 1)`,
		uuid, scheme, isRemovable)
	if err != nil {
		return nil, fmt.Errorf("create device %q: %w", uuid, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create device %q: %w", uuid, err)
	}
	return &models.Device{ID: id, UUID: uuid, Scheme: scheme, IsRemovable: isRemovable, IsPresent: true}, nil
}

// SetPresent flips a device's presence flag and bumps last_seen, the
// Present<->Absent transition from spec §4.8.
func (r *DeviceRepository) SetPresent(ctx context.Context, id int64, present bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_present = ?, last_seen = ? WHERE id = ?`, present, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set device %d present=%v: %w", id, present, err)
	}
	return nil
}

// IsPresent reports a device's current presence flag.
func (r *DeviceRepository) IsPresent(ctx context.Context, id int64) (bool, error) {
	var present bool
	err := r.db.QueryRowContext(ctx, `SELECT is_present FROM devices WHERE id = ?`, id).Scan(&present)
	if err == sql.ErrNoRows {
		return false, database.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("device %d presence: %w", id, err)
	}
	return present, nil
}
