package parsercoordinator

import (
	"context"

	"catalogizer/internal/parsertask"
	"catalogizer/repository"
)

// DeviceChecker implements parserpool.DeviceChecker by resolving a task's
// owning folder to a device and checking its presence flag.
type DeviceChecker struct {
	folders *repository.FolderRepository
	devices *repository.DeviceRepository
}

// NewDeviceChecker constructs a DeviceChecker.
func NewDeviceChecker(folders *repository.FolderRepository, devices *repository.DeviceRepository) *DeviceChecker {
	return &DeviceChecker{folders: folders, devices: devices}
}

// IsTaskDeviceAbsent reports whether the device backing task's folder is
// currently marked absent (spec §4.3's removable-device short-circuit).
func (c *DeviceChecker) IsTaskDeviceAbsent(ctx context.Context, task *parsertask.Task) (bool, error) {
	deviceID, err := c.folders.DeviceIDForFolder(ctx, task.ParentFolderID)
	if err != nil {
		return false, err
	}
	present, err := c.devices.IsPresent(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return !present, nil
}
