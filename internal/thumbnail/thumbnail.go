// Package thumbnail implements the post-analysis Thumbnail pipeline step
// for video media (spec §4.7): ask an external pixel generator for a
// frame, resize and encode it, and persist the result.
package thumbnail

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/draw"

	"go.uber.org/zap"

	"catalogizer/database"
	"catalogizer/internal/parsertask"
	"catalogizer/models"
	"catalogizer/repository"
)

// targetWidth is the fixed output width spec §4.7 mandates; height follows
// the source frame's aspect ratio.
const targetWidth = 320

// jpegQuality is the fixed encode quality spec §4.7 mandates.
const jpegQuality = 85

// Generator is the external pixel source (spec §1's "pixel generator"
// collaborator): given a media's mrl, produce one representative frame.
type Generator interface {
	Frame(ctx context.Context, mrl string) (image.Image, error)
}

// Service adapts a Generator into a parserpool.Service for the Thumbnail
// step.
type Service struct {
	generator    Generator
	thumbnailDir string

	media      *repository.MediaRepository
	thumbnails *repository.ThumbnailRepository
	files      *repository.FileRepository
	db         *database.DB
	logger     *zap.Logger
}

// NewService constructs the Thumbnail service, writing generated images
// under thumbnailDir.
func NewService(generator Generator, thumbnailDir string, db *database.DB, media *repository.MediaRepository, thumbnails *repository.ThumbnailRepository, files *repository.FileRepository, logger *zap.Logger) *Service {
	return &Service{
		generator:    generator,
		thumbnailDir: thumbnailDir,
		db:           db,
		media:        media,
		thumbnails:   thumbnails,
		files:        files,
		logger:       logger,
	}
}

// Name identifies this service in logs and pool naming.
func (s *Service) Name() string { return "thumbnailer" }

// TargetStep is Thumbnail.
func (s *Service) TargetStep() parsertask.Step { return parsertask.StepThumbnail }

// NbThreads defaults to 1: the generator wraps a stateful native decoder
// (spec §5), same rationale as the prober.
func (s *Service) NbThreads() int { return 1 }

// OnFlushing is a no-op: the thumbnailer keeps no hot cache to drop.
func (s *Service) OnFlushing() {}

// OnRestarted is a no-op for the same reason.
func (s *Service) OnRestarted() {}

// Run generates and persists a thumbnail for task's media, only for Video
// media (spec §4.7's "runs post-analysis on Video media only"). On
// generation failure it still persists a sentinel row so the media is not
// re-attempted (spec §4.7 step 3).
func (s *Service) Run(ctx context.Context, task *parsertask.Task) (parsertask.Status, error) {
	if task.MediaID == nil {
		return parsertask.StatusSuccess, nil
	}
	media, err := s.media.GetByID(ctx, *task.MediaID)
	if err != nil {
		return parsertask.StatusError, err
	}
	if media.Type != models.MediaVideo {
		return parsertask.StatusSuccess, nil
	}

	frame, genErr := s.generator.Frame(ctx, task.Mrl)
	if genErr != nil {
		s.logger.Warn("thumbnail generation failed, recording sentinel", zap.Int64("media_id", media.ID), zap.Error(genErr))
		return parsertask.StatusSuccess, s.persistSentinel(ctx, media.ID)
	}

	outPath := filepath.Join(s.thumbnailDir, strconv.FormatInt(media.ID, 10)+".jpg")
	if err := writeResizedJPEG(frame, outPath); err != nil {
		s.logger.Warn("thumbnail encode failed, recording sentinel", zap.Int64("media_id", media.ID), zap.Error(err))
		return parsertask.StatusSuccess, s.persistSentinel(ctx, media.ID)
	}

	return parsertask.StatusSuccess, s.db.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		thumb, err := s.thumbnails.Create(ctx, tx, outPath, models.ThumbnailMedia, true)
		if err != nil {
			return err
		}
		return s.media.SetThumbnail(ctx, tx, media.ID, thumb.ID)
	})
}

func (s *Service) persistSentinel(ctx context.Context, mediaID int64) error {
	return s.db.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		thumb, err := s.thumbnails.Create(ctx, tx, "", models.ThumbnailMedia, true)
		if err != nil {
			return err
		}
		return s.media.SetThumbnail(ctx, tx, mediaID, thumb.ID)
	})
}

func writeResizedJPEG(src image.Image, outPath string) error {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 {
		return fmt.Errorf("source frame has zero width")
	}
	dstH := srcH * targetWidth / srcW

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create thumbnail file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, dst, &jpeg.Options{Quality: jpegQuality})
}
