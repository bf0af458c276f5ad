package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/models"
)

// ArtistRepository provides CRUD and find-or-create for Artist rows,
// including the reserved sentinel ids seeded by migrations.
type ArtistRepository struct {
	db *database.DB
}

// NewArtistRepository constructs an ArtistRepository.
func NewArtistRepository(db *database.DB) *ArtistRepository {
	return &ArtistRepository{db: db}
}

func scanArtist(row interface{ Scan(dest ...interface{}) error }) (*models.Artist, error) {
	var a models.Artist
	if err := row.Scan(&a.ID, &a.Name, &a.ThumbnailID, &a.NbTracks); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID loads an Artist row.
func (r *ArtistRepository) GetByID(ctx context.Context, id int64) (*models.Artist, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, thumbnail_id, nb_tracks FROM artists WHERE id = ?`, id)
	a, err := scanArtist(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artist %d: %w", id, err)
	}
	return a, nil
}

// FindByName looks up an artist by its unique name.
func (r *ArtistRepository) FindByName(ctx context.Context, name string) (*models.Artist, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, thumbnail_id, nb_tracks FROM artists WHERE name = ?`, name)
	a, err := scanArtist(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find artist %q: %w", name, err)
	}
	return a, nil
}

// FindOrCreate returns the artist by name, creating it (and reporting
// created=true) when it doesn't exist yet, so callers can emit an
// onArtistCreation notification exactly once.
func (r *ArtistRepository) FindOrCreate(ctx context.Context, tx *sql.Tx, name string) (artist *models.Artist, created bool, err error) {
	row := tx.QueryRowContext(ctx, `SELECT id, name, thumbnail_id, nb_tracks FROM artists WHERE name = ?`, name)
	a, scanErr := scanArtist(row)
	if scanErr == nil {
		return a, false, nil
	}
	if scanErr != sql.ErrNoRows {
		return nil, false, fmt.Errorf("lookup artist %q: %w", name, scanErr)
	}

	result, insErr := tx.ExecContext(ctx, `INSERT INTO artists (name) VALUES (?)`, name)
	if insErr != nil {
		return nil, false, fmt.Errorf("create artist %q: %w", name, insErr)
	}
	id, insErr := result.LastInsertId()
	if insErr != nil {
		return nil, false, fmt.Errorf("create artist %q: %w", name, insErr)
	}
	return &models.Artist{ID: id, Name: name}, true, nil
}

// IncrementTracks bumps nb_tracks by delta (delta may be negative when a
// compilation migrates tracks off an artist).
func (r *ArtistRepository) IncrementTracks(ctx context.Context, tx *sql.Tx, id int64, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE artists SET nb_tracks = nb_tracks + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("increment tracks for artist %d: %w", id, err)
	}
	return nil
}

// SetThumbnail attaches a Thumbnail to an artist, used by the
// AlbumArtist/Artist-origin thumbnail propagation rules (spec §4.6.4).
func (r *ArtistRepository) SetThumbnail(ctx context.Context, tx *sql.Tx, id, thumbnailID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE artists SET thumbnail_id = ? WHERE id = ?`, thumbnailID, id)
	if err != nil {
		return fmt.Errorf("set thumbnail for artist %d: %w", id, err)
	}
	return nil
}

// GenreRepository provides find-or-create for Genre rows.
type GenreRepository struct {
	db *database.DB
}

// NewGenreRepository constructs a GenreRepository.
func NewGenreRepository(db *database.DB) *GenreRepository {
	return &GenreRepository{db: db}
}

// FindOrCreate returns the genre by name, creating it if absent. Genre is
// nullable throughout the analyzer, so callers pass "" to mean "no genre".
func (r *GenreRepository) FindOrCreate(ctx context.Context, tx *sql.Tx, name string) (*models.Genre, error) {
	if name == "" {
		return nil, nil
	}
	row := tx.QueryRowContext(ctx, `SELECT id, name FROM genres WHERE name = ?`, name)
	var g models.Genre
	err := row.Scan(&g.ID, &g.Name)
	if err == nil {
		return &g, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup genre %q: %w", name, err)
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO genres (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("create genre %q: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create genre %q: %w", name, err)
	}
	return &models.Genre{ID: id, Name: name}, nil
}
