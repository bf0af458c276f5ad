// Package metadatanalyzer implements the MetadataAnalysis pipeline step
// (spec §4.6) — the central algorithm that turns a probed Item into the
// full relational graph of Media, Artist, Album, Show and Playlist rows.
package metadatanalyzer

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"catalogizer/database"
	"catalogizer/internal/item"
	"catalogizer/internal/notify"
	"catalogizer/internal/parsertask"
	"catalogizer/models"
	"catalogizer/repository"
)

// FsClaimer reports whether some registered filesystem scheme claims an
// mrl, distinguishing an internally-resolvable sub-item from one that must
// become an External media (spec §4.6 step 1).
type FsClaimer interface {
	Claims(mrl string) bool
}

// Discoverer launches a secondary, path-restricted directory scan for a
// playlist sub-item that isn't already known (spec §4.6 step 1's
// PathProbe-restricted discover/reload).
type Discoverer interface {
	DiscoverPath(ctx context.Context, mrl string, parentPlaylistID int64, index int) error
}

// Deps bundles the repositories the analyzer reads and writes.
type Deps struct {
	DB           *database.DB
	Tasks        *repository.TaskRepository
	Media        *repository.MediaRepository
	Files        *repository.FileRepository
	Tracks       *repository.TrackRepository
	Artists      *repository.ArtistRepository
	Genres       *repository.GenreRepository
	Albums       *repository.AlbumRepository
	AlbumTracks  *repository.AlbumTrackRepository
	Shows        *repository.ShowRepository
	ShowEpisodes *repository.ShowEpisodeRepository
	Movies       *repository.MovieRepository
	Playlists    *repository.PlaylistRepository
	Thumbnails   *repository.ThumbnailRepository
}

// Service adapts the analyzer into a parserpool.Service for the
// MetadataAnalysis step. It must be pinned to exactly one worker thread
// (spec §5): the resolver's hot caches are read and written without
// locking.
type Service struct {
	deps       Deps
	items      *item.Store
	hub        *notify.Hub
	logger     *zap.Logger
	fsClaimer  FsClaimer
	discoverer Discoverer

	resolver *resolver
}

// NewService constructs the MetadataAnalysis service.
func NewService(deps Deps, items *item.Store, hub *notify.Hub, logger *zap.Logger, fsClaimer FsClaimer, discoverer Discoverer) *Service {
	return &Service{
		deps:       deps,
		items:      items,
		hub:        hub,
		logger:     logger,
		fsClaimer:  fsClaimer,
		discoverer: discoverer,
		resolver:   newResolver(deps, logger),
	}
}

// Name identifies this service in logs and pool naming.
func (s *Service) Name() string { return "analyzer" }

// TargetStep is MetadataAnalysis.
func (s *Service) TargetStep() parsertask.Step { return parsertask.StepMetadataAnalysis }

// NbThreads is pinned to 1 (spec §5).
func (s *Service) NbThreads() int { return 1 }

// OnFlushing drops the resolver's hot caches: a flush discards the queue,
// so the memoized album no longer corresponds to in-flight work.
func (s *Service) OnFlushing() { s.resolver.reset() }

// OnRestarted re-seeds nothing; the resolver lazily repopulates its caches
// on first use after a restart.
func (s *Service) OnRestarted() {}

// Run executes the full analysis flow of spec §4.6 for one task.
func (s *Service) Run(ctx context.Context, task *parsertask.Task) (parsertask.Status, error) {
	it, ok := s.items.Get(task.ID)
	if !ok {
		return parsertask.StatusFatal, fmt.Errorf("no probed item cached for task %d", task.ID)
	}
	defer s.items.Delete(task.ID)

	if it.IsPlaylist() {
		if err := s.handlePlaylist(ctx, task, it); err != nil {
			return parsertask.StatusError, err
		}
		if err := s.deps.Tasks.SaveStep(ctx, task.ID, parsertask.StepCompleted); err != nil {
			return parsertask.StatusError, err
		}
		task.SaveStep(parsertask.StepCompleted)
		return parsertask.StatusCompleted, nil
	}

	alreadyInParser := false
	err := s.deps.DB.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		alreadyInParser, err = s.createMediaAndFile(ctx, tx, task)
		return err
	})
	if err != nil {
		return parsertask.StatusError, err
	}

	if task.ParentPlaylistID != nil && task.ParentPlaylistIndex != nil {
		err := s.deps.DB.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return s.deps.Playlists.LinkMediaByIndex(ctx, tx, *task.ParentPlaylistID, *task.ParentPlaylistIndex, *task.MediaID)
		})
		if err != nil {
			return parsertask.StatusError, err
		}
	}

	if alreadyInParser {
		if err := s.deps.Tasks.SaveStep(ctx, task.ID, parsertask.StepCompleted); err != nil {
			return parsertask.StatusError, err
		}
		if err := s.deps.Tasks.Delete(ctx, task.ID); err != nil {
			return parsertask.StatusError, err
		}
		return parsertask.StatusCompleted, nil
	}

	err = database.WithRetries(ctx, 3, func() error {
		return s.deps.DB.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return s.analyzeContent(ctx, tx, task, it)
		})
	})
	if err != nil {
		return parsertask.StatusError, err
	}

	if err := s.deps.Tasks.SaveStep(ctx, task.ID, parsertask.StepMetadataAnalysis); err != nil {
		return parsertask.StatusError, err
	}
	task.SaveStep(parsertask.StepMetadataAnalysis)
	s.hub.Publish(notify.Event{Kind: notify.KindMediaCreation, MediaID: *task.MediaID})
	return parsertask.StatusSuccess, nil
}

// handlePlaylist implements spec §4.6 step 1: create the Playlist and its
// File, then resolve each sub-item by link, External creation, or a
// restricted secondary scan.
func (s *Service) handlePlaylist(ctx context.Context, task *parsertask.Task, it *item.Item) error {
	title := it.Tags.Title
	if title == "" {
		title = filenameFromMrl(task.Mrl)
	}

	var playlist *models.Playlist
	err := s.deps.DB.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		f := &models.File{Mrl: task.Mrl, Type: models.FilePlaylist, FolderID: &task.ParentFolderID}
		fileID, err := s.deps.Files.Create(ctx, tx, f)
		if err != nil {
			return err
		}
		playlist, err = s.deps.Playlists.Create(ctx, tx, title, fileID)
		return err
	})
	if err != nil {
		return fmt.Errorf("create playlist for %s: %w", task.Mrl, err)
	}

	for _, sub := range it.SubItems {
		if err := s.addPlaylistElement(ctx, playlist.ID, sub); err != nil {
			s.logger.Warn("failed to resolve playlist sub-item",
				zap.String("mrl", sub.Mrl), zap.Int("index", sub.Index), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) addPlaylistElement(ctx context.Context, playlistID int64, sub item.SubItem) error {
	return s.deps.DB.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := s.deps.Playlists.AddItem(ctx, tx, playlistID, sub.Index, nil, sub.Mrl)
		if err != nil {
			return err
		}

		if existing, err := s.deps.Media.GetByMrl(ctx, sub.Mrl); err == nil {
			return s.deps.Playlists.LinkMediaByIndex(ctx, tx, playlistID, sub.Index, existing.ID)
		} else if err != database.ErrNotFound {
			return err
		}

		if s.fsClaimer == nil || !s.fsClaimer.Claims(sub.Mrl) {
			title := sub.Title
			if title == "" {
				title = filenameFromMrl(sub.Mrl)
			}
			m := &models.Media{Type: models.MediaExternal, Title: title, Filename: filenameFromMrl(sub.Mrl)}
			if _, err := s.deps.Media.Create(ctx, tx, m); err != nil {
				return err
			}
			return s.deps.Playlists.LinkMediaByIndex(ctx, tx, playlistID, sub.Index, m.ID)
		}

		if s.discoverer != nil {
			return s.discoverer.DiscoverPath(ctx, sub.Mrl, playlistID, sub.Index)
		}
		return nil
	})
}

// createMediaAndFile implements spec §4.6 step 2: create Media+File when
// neither is preassigned on the task, reloading by mrl on a unique
// violation and reporting already_in_parser=true for the caller.
func (s *Service) createMediaAndFile(ctx context.Context, tx *sql.Tx, task *parsertask.Task) (alreadyInParser bool, err error) {
	if task.MediaID != nil && task.FileID != nil {
		return false, nil
	}

	title := filenameFromMrl(task.Mrl)
	m := &models.Media{Type: models.MediaUnknown, Title: title, Filename: title, FolderID: &task.ParentFolderID}
	if _, err := s.deps.Media.Create(ctx, tx, m); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.deps.Media.GetByMrl(ctx, task.Mrl)
			if lookupErr != nil {
				return false, lookupErr
			}
			task.MediaID = &existing.ID
			return true, nil
		}
		return false, fmt.Errorf("create media for %s: %w", task.Mrl, err)
	}
	task.MediaID = &m.ID

	f := &models.File{MediaID: m.ID, Mrl: task.Mrl, Type: models.FileMain, FolderID: &task.ParentFolderID}
	if _, err := s.deps.Files.Create(ctx, tx, f); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.deps.Files.GetByMrl(ctx, task.Mrl)
			if lookupErr != nil {
				return false, lookupErr
			}
			task.FileID = &existing.ID
			task.MediaID = &existing.MediaID
			return true, nil
		}
		return false, fmt.Errorf("create file for %s: %w", task.Mrl, err)
	}
	task.FileID = &f.ID
	if err := s.deps.Tasks.SetFileAndMedia(ctx, task.ID, f.ID, m.ID); err != nil {
		return false, err
	}
	return false, nil
}

// analyzeContent implements spec §4.6 steps 5-7: persist stream rows and
// duration, then dispatch to the video or audio branch.
func (s *Service) analyzeContent(ctx context.Context, tx *sql.Tx, task *parsertask.Task, it *item.Item) error {
	mediaID := *task.MediaID

	for _, tr := range it.Tracks {
		var t repository.TrackType
		switch tr.Type {
		case item.TrackVideo:
			t = repository.TrackVideo
		case item.TrackSubtitle:
			t = repository.TrackSubtitle
		default:
			t = repository.TrackAudio
		}
		if _, err := s.deps.Tracks.Create(ctx, tx, mediaID, t, tr.Codec, tr.Bitrate, tr.Language, tr.Description); err != nil {
			return err
		}
	}
	if err := s.deps.Media.SetDuration(ctx, tx, mediaID, it.DurationMs); err != nil {
		return err
	}

	if it.HasVideo() {
		return s.analyzeVideo(ctx, tx, task, it)
	}
	return s.analyzeAudio(ctx, tx, task, it)
}

func filenameFromMrl(mrl string) string {
	decoded, err := url.QueryUnescape(path.Base(mrl))
	if err != nil {
		return path.Base(mrl)
	}
	return decoded
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

func parsePositiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseYear(date string) (int, bool) {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return 0, false
	}
	n, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0, false
	}
	return n, true
}
