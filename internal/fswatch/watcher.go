// Package fswatch tracks removable-device presence by watching mount
// points with fsnotify, flipping Device.is_present on attach/detach. It is
// the Go-native replacement for the teacher's polling directory watcher,
// narrowed from file-change events to mountpoint presence events.
package fswatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"catalogizer/repository"
)

// PresenceChanged is published whenever a watched mountpoint appears or
// disappears.
type PresenceChanged struct {
	DeviceID int64
	Present  bool
}

// Watcher turns raw fsnotify events on a set of mountpoints, and on
// entries directly inside them, into Device presence flips: one flip per
// event, with no debouncing. Grounded on the teacher's directory-watcher
// worker shape.
type Watcher struct {
	fsw      *fsnotify.Watcher
	devices  *repository.DeviceRepository
	logger   *zap.Logger
	mounts   map[string]int64 // mountpoint path -> device id
	handlers []func(PresenceChanged)
}

// New constructs a Watcher. mounts maps each tracked mountpoint path to
// the Device row id it backs.
func New(devices *repository.DeviceRepository, logger *zap.Logger, mounts map[string]int64) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, devices: devices, logger: logger, mounts: mounts}
	for path := range mounts {
		if err := fsw.Add(path); err != nil {
			logger.Warn("could not watch mountpoint", zap.String("path", path), zap.Error(err))
		}
	}
	return w, nil
}

// OnPresenceChanged registers a handler invoked whenever a device's
// presence flips.
func (w *Watcher) OnPresenceChanged(h func(PresenceChanged)) {
	w.handlers = append(w.handlers, h)
}

// Run processes fsnotify events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fswatch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	deviceID, ok := w.mounts[ev.Name]
	if !ok {
		deviceID, ok = w.mounts[filepath.Dir(ev.Name)]
	}
	if !ok {
		return
	}

	var present bool
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		present = true
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		present = false
	default:
		return
	}

	if err := w.devices.SetPresent(ctx, deviceID, present); err != nil {
		w.logger.Error("failed to update device presence", zap.Int64("device_id", deviceID), zap.Error(err))
		return
	}
	for _, h := range w.handlers {
		h(PresenceChanged{DeviceID: deviceID, Present: present})
	}
}
