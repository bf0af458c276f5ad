package metadatanalyzer

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogizer/database"
	"catalogizer/internal/item"
	"catalogizer/models"
	"catalogizer/repository"
)

var albumCols = []string{"id", "title", "album_artist_id", "release_year", "thumbnail_id", "nb_tracks"}
var trackInfoCols = []string{"artist_id", "disc_number", "folder_id"}

func newAlbumResolverFixture(t *testing.T) (*resolver, sqlmock.Sqlmock, *sql.Tx, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectBegin()
	tx, err := sqlDB.Begin()
	require.NoError(t, err)

	db := database.WrapDB(sqlDB)
	deps := Deps{Albums: repository.NewAlbumRepository(db)}
	r := newResolver(deps, nil)

	cleanup := func() {
		mock.ExpectRollback()
		_ = tx.Rollback()
		sqlDB.Close()
	}
	return r, mock, tx, cleanup
}

func ptr(i int64) *int64 { return &i }

func TestResolveAlbumEmptyNameUsesUnknownBucket(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	albumArtist := &models.Artist{ID: 9}

	mock.ExpectQuery("SELECT .* FROM albums WHERE title = '' AND album_artist_id").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO albums").
		WithArgs("", int64(9)).
		WillReturnResult(sqlmock.NewResult(5, 1))

	album, created, err := r.resolveAlbum(context.Background(), tx, "", albumArtist, nil, item.Tags{}, nil)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), album.ID)
	assert.Nil(t, r.previousAlbum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumNoCandidatesCreatesAndMemoizes(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	albumArtist := &models.Artist{ID: 2}
	folderID := ptr(100)

	mock.ExpectQuery("SELECT .* FROM albums WHERE title = \\?").
		WithArgs("Wish You Were Here").
		WillReturnRows(sqlmock.NewRows(albumCols))
	mock.ExpectExec("INSERT INTO albums").
		WithArgs("Wish You Were Here", int64(2)).
		WillReturnResult(sqlmock.NewResult(11, 1))

	album, created, err := r.resolveAlbum(context.Background(), tx, "Wish You Were Here", albumArtist, nil, item.Tags{}, folderID)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(11), album.ID)
	assert.Same(t, album, r.previousAlbum)
	assert.Equal(t, folderID, r.previousFolderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumMemoizedHitSkipsQuery(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	folderID := ptr(7)
	r.previousAlbum = &models.Album{ID: 3, Title: "The Wall"}
	r.previousFolderID = folderID

	album, created, err := r.resolveAlbum(context.Background(), tx, "The Wall", nil, nil, item.Tags{}, folderID)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), album.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumDifferentFolderBustsMemo(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	r.previousAlbum = &models.Album{ID: 3, Title: "The Wall"}
	r.previousFolderID = ptr(7)

	otherFolder := ptr(8)
	mock.ExpectQuery("SELECT .* FROM albums WHERE title = \\?").
		WithArgs("The Wall").
		WillReturnRows(sqlmock.NewRows(albumCols).
			AddRow(int64(3), "The Wall", int64(1), nil, nil, 0))
	mock.ExpectQuery("SELECT at.artist_id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(trackInfoCols))

	album, created, err := r.resolveAlbum(context.Background(), tx, "The Wall", nil, nil, item.Tags{}, otherFolder)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), album.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumFiltersCandidateByAlbumArtistMismatch(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	albumArtist := &models.Artist{ID: 20}

	mock.ExpectQuery("SELECT .* FROM albums WHERE title = \\?").
		WithArgs("Greatest Hits").
		WillReturnRows(sqlmock.NewRows(albumCols).
			AddRow(int64(4), "Greatest Hits", int64(99), nil, nil, 10))
	mock.ExpectQuery("SELECT at.artist_id").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(trackInfoCols))
	mock.ExpectExec("INSERT INTO albums").
		WithArgs("Greatest Hits", int64(20)).
		WillReturnResult(sqlmock.NewResult(12, 1))

	album, created, err := r.resolveAlbum(context.Background(), tx, "Greatest Hits", albumArtist, nil, item.Tags{}, nil)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(12), album.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumMultiDiscTagKeepsCandidateAcrossFolders(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	folderA := ptr(1)
	folderB := ptr(2)

	mock.ExpectQuery("SELECT .* FROM albums WHERE title = \\?").
		WithArgs("Use Your Illusion").
		WillReturnRows(sqlmock.NewRows(albumCols).
			AddRow(int64(6), "Use Your Illusion", int64(1), nil, nil, 9))
	mock.ExpectQuery("SELECT at.artist_id").
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows(trackInfoCols).
			AddRow(int64(1), 1, *folderA))

	tags := item.Tags{DiscTotal: 2, DiscNumber: 2}
	album, created, err := r.resolveAlbum(context.Background(), tx, "Use Your Illusion", nil, nil, tags, folderB)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(6), album.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumYearMismatchFiltersOutSingleArtistCandidate(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	oldYear := 1979
	folderA := ptr(1)
	folderB := ptr(2)

	mock.ExpectQuery("SELECT .* FROM albums WHERE title = \\?").
		WithArgs("The Wall").
		WillReturnRows(sqlmock.NewRows(albumCols).
			AddRow(int64(3), "The Wall", int64(2), oldYear, nil, 26))
	mock.ExpectQuery("SELECT at.artist_id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(trackInfoCols).
			AddRow(int64(2), 1, *folderA))
	mock.ExpectExec("INSERT INTO albums").
		WithArgs("The Wall", int64(2)).
		WillReturnResult(sqlmock.NewResult(50, 1))

	albumArtist := &models.Artist{ID: 2}
	trackArtist := &models.Artist{ID: 2}
	tags := item.Tags{Date: "1994-01-01"}
	album, created, err := r.resolveAlbum(context.Background(), tx, "The Wall", albumArtist, trackArtist, tags, folderB)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(50), album.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlbumAmbiguousCandidatesPicksFirstSurvivor(t *testing.T) {
	r, mock, tx, cleanup := newAlbumResolverFixture(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM albums WHERE title = \\?").
		WithArgs("Compilation").
		WillReturnRows(sqlmock.NewRows(albumCols).
			AddRow(int64(1), "Compilation", int64(1), nil, nil, 5).
			AddRow(int64(2), "Compilation", int64(2), nil, nil, 7))
	mock.ExpectQuery("SELECT at.artist_id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(trackInfoCols))
	mock.ExpectQuery("SELECT at.artist_id").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(trackInfoCols))

	album, created, err := r.resolveAlbum(context.Background(), tx, "Compilation", nil, nil, item.Tags{}, nil)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), album.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
