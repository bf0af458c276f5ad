package thumbnail

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"catalogizer/database"
	"catalogizer/internal/parsertask"
	"catalogizer/models"
	"catalogizer/repository"
)

type fakeGenerator struct {
	frame image.Image
	err   error
}

func (f *fakeGenerator) Frame(ctx context.Context, mrl string) (image.Image, error) {
	return f.frame, f.err
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img
}

func newFixture(t *testing.T, gen Generator) (*Service, sqlmock.Sqlmock, string) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.WrapDB(sqlDB)
	dir := t.TempDir()
	svc := NewService(gen, dir,
		db,
		repository.NewMediaRepository(db),
		repository.NewThumbnailRepository(db),
		repository.NewFileRepository(db),
		zap.NewNop(),
	)
	return svc, mock, dir
}

func TestServiceRunSkipsNonVideoMedia(t *testing.T) {
	svc, mock, _ := newFixture(t, &fakeGenerator{})

	mock.ExpectQuery("SELECT .* FROM media WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "sub_type", "duration_ms", "play_count",
			"last_played_date", "real_last_played_date", "insertion_date", "release_year", "thumbnail_id",
			"title", "filename", "is_favorite", "nb_playlists", "device_id", "folder_id"}).
			AddRow(int64(1), models.MediaAudio, 0, int64(1000), 0, nil, nil, time.Now(), nil, nil, "t", "f", false, 0, int64(1), nil))

	mediaID := int64(1)
	status, err := svc.Run(context.Background(), &parsertask.Task{MediaID: &mediaID})

	require.NoError(t, err)
	assert.Equal(t, parsertask.StatusSuccess, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceRunSkipsTasksWithoutMedia(t *testing.T) {
	svc, _, _ := newFixture(t, &fakeGenerator{})
	status, err := svc.Run(context.Background(), &parsertask.Task{})
	require.NoError(t, err)
	assert.Equal(t, parsertask.StatusSuccess, status)
}

func TestServiceRunGeneratesAndPersistsThumbnailForVideo(t *testing.T) {
	svc, mock, dir := newFixture(t, &fakeGenerator{frame: solidImage(640, 360)})

	mock.ExpectQuery("SELECT .* FROM media WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "sub_type", "duration_ms", "play_count",
			"last_played_date", "real_last_played_date", "insertion_date", "release_year", "thumbnail_id",
			"title", "filename", "is_favorite", "nb_playlists", "device_id", "folder_id"}).
			AddRow(int64(5), models.MediaVideo, 0, int64(1000), 0, nil, nil, time.Now(), nil, nil, "t", "f", false, 0, int64(1), nil))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO thumbnails").WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec("UPDATE media SET thumbnail_id").WithArgs(int64(9), int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mediaID := int64(5)
	status, err := svc.Run(context.Background(), &parsertask.Task{MediaID: &mediaID, Mrl: "file:///clip.mkv"})

	require.NoError(t, err)
	assert.Equal(t, parsertask.StatusSuccess, status)
	assert.NoError(t, mock.ExpectationsWereMet())

	if _, statErr := os.Stat(filepath.Join(dir, "5.jpg")); statErr != nil {
		t.Fatalf("expected thumbnail file to be written: %v", statErr)
	}
}

func TestServiceRunPersistsSentinelOnGeneratorFailure(t *testing.T) {
	svc, mock, _ := newFixture(t, &fakeGenerator{err: errors.New("no frame")})

	mock.ExpectQuery("SELECT .* FROM media WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "sub_type", "duration_ms", "play_count",
			"last_played_date", "real_last_played_date", "insertion_date", "release_year", "thumbnail_id",
			"title", "filename", "is_favorite", "nb_playlists", "device_id", "folder_id"}).
			AddRow(int64(7), models.MediaVideo, 0, int64(1000), 0, nil, nil, time.Now(), nil, nil, "t", "f", false, 0, int64(1), nil))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO thumbnails").WithArgs("", int64(models.ThumbnailMedia), true).WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("UPDATE media SET thumbnail_id").WithArgs(int64(10), int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mediaID := int64(7)
	status, err := svc.Run(context.Background(), &parsertask.Task{MediaID: &mediaID, Mrl: "file:///clip.mkv"})

	require.NoError(t, err)
	assert.Equal(t, parsertask.StatusSuccess, status, "generation failure is recorded, not fatal")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteResizedJPEGScalesToTargetWidth(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.jpg")

	require.NoError(t, writeResizedJPEG(solidImage(640, 480), out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, targetWidth, cfg.Width)
	assert.Equal(t, 480*targetWidth/640, cfg.Height)
}

func TestWriteResizedJPEGRejectsZeroWidthSource(t *testing.T) {
	err := writeResizedJPEG(image.NewRGBA(image.Rect(0, 0, 0, 10)), filepath.Join(t.TempDir(), "out.jpg"))
	assert.Error(t, err)
}
