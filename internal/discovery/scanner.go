// Package discovery implements the local-disk file-system discoverer that
// feeds the ingestion pipeline: it walks a device's root, turns every
// regular file into a Task (spec §2's "Discoverer -> TaskStore.insert ->
// Coordinator" hop), and implements the Discoverer hooks the metadata
// analyzer calls to restart a restricted sub-scan for a playlist element
// (spec §4.6 step 1).
//
// Remote-protocol discovery (SMB/FTP/WebDAV directory listing) is out of
// scope here: discovery is an external producer the pipeline only
// consumes from (spec line 12), so only the local bootstrap scanner needed
// to drive the pipeline end-to-end is provided. See DESIGN.md.
package discovery

import (
	"context"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"catalogizer/internal/fs"
	"catalogizer/internal/parsertask"
	"catalogizer/repository"
)

// Ingester persists and submits a newly discovered task, the coordinator's
// entry point into the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, task *parsertask.Task) (int64, error)
}

// Probe restricts a scan to files under Path (spec's PathProbe), used when
// the analyzer asks for a restricted re-scan of one playlist sub-item.
type Probe struct {
	Path string
}

// Scanner walks local directories and turns files into pipeline tasks.
// Subdirectory recursion is fanned out concurrently, bounded by a
// semaphore sized from config.CatalogConfig.ScannerConcurrency.
type Scanner struct {
	folders  *repository.FolderRepository
	devices  *repository.DeviceRepository
	ingester Ingester
	logger   *zap.Logger
	sem      *semaphore.Weighted

	deviceUUID string
	deviceID   int64
	root       string
}

// New constructs a Scanner rooted at root, backed by the device identified
// by deviceUUID (created present if it doesn't exist yet). concurrency
// bounds how many subdirectories are walked in parallel; values below 1
// are treated as 1.
func New(ctx context.Context, folders *repository.FolderRepository, devices *repository.DeviceRepository, ingester Ingester, logger *zap.Logger, deviceUUID, root string, concurrency int) (*Scanner, error) {
	device, err := devices.GetOrCreate(ctx, deviceUUID, "file", false)
	if err != nil {
		return nil, fmt.Errorf("resolve device %q: %w", deviceUUID, err)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{
		folders:    folders,
		devices:    devices,
		ingester:   ingester,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		deviceUUID: deviceUUID,
		deviceID:   device.ID,
		root:       root,
	}, nil
}

// Discover walks the scanner's whole root, optionally restricted by probe.
// Each call gets its own job id so its log lines can be correlated.
func (s *Scanner) Discover(ctx context.Context, probe *Probe) error {
	jobID := uuid.New().String()
	s.logger.Info("scan started", zap.String("job_id", jobID), zap.String("root", s.root))
	err := s.walk(ctx, s.root, nil, probe)
	s.logger.Info("scan finished", zap.String("job_id", jobID), zap.Error(err))
	return err
}

// Reload re-walks the scanner's root, marking every discovered task as a
// refresh so the analyzer re-resolves media it already knows (spec's
// discover/reload distinction).
func (s *Scanner) Reload(ctx context.Context, probe *Probe) error {
	jobID := uuid.New().String()
	s.logger.Info("reload started", zap.String("job_id", jobID), zap.String("root", s.root))
	err := s.walkMarked(ctx, s.root, nil, probe, true)
	s.logger.Info("reload finished", zap.String("job_id", jobID), zap.Error(err))
	return err
}

// DiscoverPath implements metadatanalyzer.Discoverer: it launches a
// secondary scan of the whole root restricted to mrl's relative path,
// attaching whatever task it produces to the given playlist element.
func (s *Scanner) DiscoverPath(ctx context.Context, mrl string, parentPlaylistID int64, index int) error {
	parsed, err := fs.ParseMrl(mrl)
	if err != nil {
		return fmt.Errorf("discover path: %w", err)
	}
	probe := &Probe{Path: parsed.Path}
	parentID := parentPlaylistID
	idx := index
	return s.walkInner(ctx, s.root, nil, probe, &parentID, &idx, false)
}

func (s *Scanner) walk(ctx context.Context, dir string, parentFolderID *int64, probe *Probe) error {
	return s.walkMarked(ctx, dir, parentFolderID, probe, false)
}

func (s *Scanner) walkMarked(ctx context.Context, dir string, parentFolderID *int64, probe *Probe, refresh bool) error {
	return s.walkInner(ctx, dir, parentFolderID, probe, nil, nil, refresh)
}

func (s *Scanner) walkInner(ctx context.Context, dir string, parentFolderID *int64, probe *Probe, playlistID *int64, playlistIndex *int, refresh bool) error {
	rel, err := filepath.Rel(s.root, dir)
	if err != nil {
		rel = dir
	}
	if probe != nil && !withinProbe(rel, probe.Path) {
		return nil
	}

	folder, err := s.folders.GetOrCreate(ctx, rel, parentFolderID, s.deviceID)
	if err != nil {
		return fmt.Errorf("discover folder %q: %w", rel, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			group.Go(func() error {
				if err := s.sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				defer s.sem.Release(1)
				if err := s.walkInner(gctx, full, &folder.ID, probe, playlistID, playlistIndex, refresh); err != nil {
					s.logger.Warn("subdirectory scan failed", zap.String("path", full), zap.Error(err))
				}
				return nil
			})
			continue
		}
		if !isMediaCandidate(entry) {
			continue
		}
		if probe != nil {
			if relFile, err := filepath.Rel(s.root, full); err == nil && !withinProbe(relFile, probe.Path) {
				continue
			}
		}
		if err := s.submitFile(ctx, full, folder.ID, playlistID, playlistIndex, refresh); err != nil {
			s.logger.Error("submit discovered file failed", zap.String("path", full), zap.Error(err))
		}
	}
	return group.Wait()
}

func (s *Scanner) submitFile(ctx context.Context, absPath string, folderID int64, playlistID *int64, playlistIndex *int, refresh bool) error {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		rel = absPath
	}
	mrl := fmt.Sprintf("file://%s/%s", s.deviceUUID, filepath.ToSlash(rel))

	task := &parsertask.Task{
		Mrl:                 mrl,
		ParentFolderID:      folderID,
		ParentPlaylistID:    playlistID,
		ParentPlaylistIndex: playlistIndex,
		IsRefresh:           refresh,
	}
	_, err = s.ingester.Ingest(ctx, task)
	return err
}

func isMediaCandidate(entry os.DirEntry) bool {
	if entry.Type()&iofs.ModeSymlink != 0 {
		return false
	}
	name := entry.Name()
	if strings.HasPrefix(name, ".") {
		return false
	}
	return true
}

// withinProbe reports whether rel is on the path to, at, or under probe,
// so the walk both descends toward a narrow probe target and collects
// everything once it reaches it. An empty probe matches everything.
func withinProbe(rel, probe string) bool {
	if probe == "" {
		return true
	}
	rel = filepath.Clean(rel)
	probe = filepath.Clean(probe)
	if rel == "." || rel == probe {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(rel, probe+sep) || strings.HasPrefix(probe, rel+sep)
}

