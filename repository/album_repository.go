package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/models"
)

// AlbumRepository provides CRUD, disambiguation-candidate loading and the
// linking mutations the metadata analyzer's album resolution needs
// (spec §4.6.3, §4.6.4).
type AlbumRepository struct {
	db *database.DB
}

// NewAlbumRepository constructs an AlbumRepository.
func NewAlbumRepository(db *database.DB) *AlbumRepository {
	return &AlbumRepository{db: db}
}

// AlbumTrackInfo is the slice of an existing AlbumTrack row the
// disambiguation algorithm inspects per candidate.
type AlbumTrackInfo struct {
	ArtistID int64
	DiscNumber int
	FolderID *int64 // the folder of the track's owning Media
}

// AlbumCandidate bundles an Album row with its existing tracks, as loaded
// for disambiguation (spec §4.6.3 step 3).
type AlbumCandidate struct {
	Album  *models.Album
	Tracks []AlbumTrackInfo
}

func scanAlbum(row interface{ Scan(dest ...interface{}) error }) (*models.Album, error) {
	var a models.Album
	err := row.Scan(&a.ID, &a.Title, &a.AlbumArtistID, &a.ReleaseYear, &a.ThumbnailID, &a.NbTracks)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const albumColumns = `id, title, album_artist_id, release_year, thumbnail_id, nb_tracks`

// GetByID loads an Album row.
func (r *AlbumRepository) GetByID(ctx context.Context, id int64) (*models.Album, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM albums WHERE id = ?", albumColumns), id)
	a, err := scanAlbum(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get album %d: %w", id, err)
	}
	return a, nil
}

// CandidatesByTitle loads every album with the given title plus its
// existing tracks (artist, disc number, owning media's folder), the input
// to the disambiguation algorithm's survivor filter.
func (r *AlbumRepository) CandidatesByTitle(ctx context.Context, tx *sql.Tx, title string) ([]AlbumCandidate, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM albums WHERE title = ?", albumColumns), title)
	if err != nil {
		return nil, fmt.Errorf("load album candidates %q: %w", title, err)
	}
	var candidates []AlbumCandidate
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan album candidate: %w", err)
		}
		candidates = append(candidates, AlbumCandidate{Album: a})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range candidates {
		tracks, err := r.tracksForAlbum(ctx, tx, candidates[i].Album.ID)
		if err != nil {
			return nil, err
		}
		candidates[i].Tracks = tracks
	}
	return candidates, nil
}

func (r *AlbumRepository) tracksForAlbum(ctx context.Context, tx *sql.Tx, albumID int64) ([]AlbumTrackInfo, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT at.artist_id, at.disc_number, m.folder_id
		FROM album_tracks at JOIN media m ON m.id = at.media_id
		WHERE at.album_id = ?`, albumID)
	if err != nil {
		return nil, fmt.Errorf("load tracks for album %d: %w", albumID, err)
	}
	defer rows.Close()

	var tracks []AlbumTrackInfo
	for rows.Next() {
		var t AlbumTrackInfo
		if err := rows.Scan(&t.ArtistID, &t.DiscNumber, &t.FolderID); err != nil {
			return nil, fmt.Errorf("scan album track info: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// Create inserts a new Album with the given title and album artist.
func (r *AlbumRepository) Create(ctx context.Context, tx *sql.Tx, title string, albumArtistID int64) (*models.Album, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx,
		`INSERT INTO albums (title, album_artist_id) VALUES (?, ?)`, title, albumArtistID)
	if err != nil {
		return nil, fmt.Errorf("create album %q: %w", title, err)
	}
	return &models.Album{ID: id, Title: title, AlbumArtistID: albumArtistID}, nil
}

// GetOrCreateUnknownAlbum returns artist's "unknown album" bucket (an album
// titled "" owned by that artist), creating it on first use. This backs
// Artist.unknownAlbum() from spec §4.6.3 step 1.
func (r *AlbumRepository) GetOrCreateUnknownAlbum(ctx context.Context, tx *sql.Tx, artistID int64) (*models.Album, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM albums WHERE title = '' AND album_artist_id = ?", albumColumns), artistID)
	a, err := scanAlbum(row)
	if err == nil {
		return a, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup unknown album for artist %d: %w", artistID, err)
	}
	return r.Create(ctx, tx, "", artistID)
}

// SetAlbumArtist sets the owning artist of an album — used both on first
// assignment and on the VariousArtists compilation promotion.
func (r *AlbumRepository) SetAlbumArtist(ctx context.Context, tx *sql.Tx, albumID, artistID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE albums SET album_artist_id = ? WHERE id = ?`, artistID, albumID)
	if err != nil {
		return fmt.Errorf("set album artist for album %d: %w", albumID, err)
	}
	return nil
}

// IncrementTracks bumps nb_tracks by delta.
func (r *AlbumRepository) IncrementTracks(ctx context.Context, tx *sql.Tx, albumID int64, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE albums SET nb_tracks = nb_tracks + ? WHERE id = ?`, delta, albumID)
	if err != nil {
		return fmt.Errorf("increment tracks for album %d: %w", albumID, err)
	}
	return nil
}

// SetThumbnail attaches a Thumbnail to an album.
func (r *AlbumRepository) SetThumbnail(ctx context.Context, tx *sql.Tx, albumID, thumbnailID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE albums SET thumbnail_id = ? WHERE id = ?`, thumbnailID, albumID)
	if err != nil {
		return fmt.Errorf("set thumbnail for album %d: %w", albumID, err)
	}
	return nil
}

// SetReleaseYear implements set_release_year(year, force) from spec §4.6.2
// / §9: "first seen wins unless a later call passes force=true". A nil
// current year always accepts the incoming one.
func (r *AlbumRepository) SetReleaseYear(ctx context.Context, tx *sql.Tx, albumID int64, year int, force bool) error {
	album, err := r.GetByID(ctx, albumID)
	if err != nil {
		return err
	}
	if album.ReleaseYear != nil && !force {
		return nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE albums SET release_year = ? WHERE id = ?`, year, albumID)
	if err != nil {
		return fmt.Errorf("set release year for album %d: %w", albumID, err)
	}
	return nil
}

// AddArtist records that artistID contributes to albumID, marking it as
// featuring when it is not the album's primary album_artist_id.
func (r *AlbumRepository) AddArtist(ctx context.Context, tx *sql.Tx, albumID, artistID int64, featuring bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO album_artists (album_id, artist_id, is_featuring) VALUES (?, ?, ?)
		ON CONFLICT (album_id, artist_id) DO UPDATE SET is_featuring = excluded.is_featuring`,
		albumID, artistID, featuring)
	if err != nil {
		return fmt.Errorf("add artist %d to album %d: %w", artistID, albumID, err)
	}
	return nil
}

// AlbumTrackRepository provides CRUD for AlbumTrack rows.
type AlbumTrackRepository struct {
	db *database.DB
}

// NewAlbumTrackRepository constructs an AlbumTrackRepository.
func NewAlbumTrackRepository(db *database.DB) *AlbumTrackRepository {
	return &AlbumTrackRepository{db: db}
}

// Create inserts an AlbumTrack row keying mediaID into exactly one album,
// artist and optional genre (spec §3, §4.6.2).
func (r *AlbumTrackRepository) Create(ctx context.Context, tx *sql.Tx, t *models.AlbumTrack) (int64, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx, `
		INSERT INTO album_tracks (media_id, album_id, artist_id, genre_id, track_number, disc_number, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.MediaID, t.AlbumID, t.ArtistID, t.GenreID, t.TrackNumber, t.DiscNumber, t.Duration)
	if err != nil {
		return 0, fmt.Errorf("create album track for media %d: %w", t.MediaID, err)
	}
	t.ID = id
	return id, nil
}
