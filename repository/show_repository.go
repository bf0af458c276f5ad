package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/models"
)

// ShowRepository provides find-or-create and episode-count queries for
// Show rows.
type ShowRepository struct {
	db *database.DB
}

// NewShowRepository constructs a ShowRepository.
func NewShowRepository(db *database.DB) *ShowRepository {
	return &ShowRepository{db: db}
}

// FindOrCreate returns the show by name, creating it if absent.
func (r *ShowRepository) FindOrCreate(ctx context.Context, tx *sql.Tx, name string) (*models.Show, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, name, thumbnail_id FROM shows WHERE name = ?`, name)
	var s models.Show
	err := row.Scan(&s.ID, &s.Name, &s.ThumbnailID)
	if err == nil {
		return &s, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup show %q: %w", name, err)
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO shows (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("create show %q: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create show %q: %w", name, err)
	}
	return &models.Show{ID: id, Name: name}, nil
}

// NbSeasons derives the number of distinct seasons from ShowEpisode rows.
// The source this spec was distilled from always returned 0 here; per
// spec §9 that is resolved as unintentional, so this computes a real
// answer from episode_number buckets of 100 (season * 100 + episode),
// matching the only season-encoding convention implied by the original.
func (r *ShowRepository) NbSeasons(ctx context.Context, showID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT episode_number / 100) FROM show_episodes WHERE show_id = ?`, showID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count seasons for show %d: %w", showID, err)
	}
	return n, nil
}

// NbEpisodes derives the number of episodes from a real query over
// ShowEpisode, per spec §9's resolved open question.
func (r *ShowRepository) NbEpisodes(ctx context.Context, showID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM show_episodes WHERE show_id = ?`, showID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count episodes for show %d: %w", showID, err)
	}
	return n, nil
}

// ShowEpisodeRepository provides CRUD for ShowEpisode rows.
type ShowEpisodeRepository struct {
	db *database.DB
}

// NewShowEpisodeRepository constructs a ShowEpisodeRepository.
func NewShowEpisodeRepository(db *database.DB) *ShowEpisodeRepository {
	return &ShowEpisodeRepository{db: db}
}

// Create inserts a ShowEpisode row, keying mediaID into showID at episode
// number — the show.addEpisode(media, episode, title) call from spec §4.6.1.
func (r *ShowEpisodeRepository) Create(ctx context.Context, tx *sql.Tx, mediaID, showID int64, episodeNumber int, title string) (int64, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx,
		`INSERT INTO show_episodes (media_id, show_id, episode_number, title) VALUES (?, ?, ?, ?)`,
		mediaID, showID, episodeNumber, title)
	if err != nil {
		return 0, fmt.Errorf("create show episode for media %d: %w", mediaID, err)
	}
	return id, nil
}

// MovieRepository provides CRUD for Movie rows.
type MovieRepository struct {
	db *database.DB
}

// NewMovieRepository constructs a MovieRepository.
func NewMovieRepository(db *database.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// Create inserts a Movie row keying mediaID as a standalone feature (no
// automatic resolution path, per spec §4.6.1).
func (r *MovieRepository) Create(ctx context.Context, tx *sql.Tx, mediaID int64, title string) (int64, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx,
		`INSERT INTO movies (media_id, title) VALUES (?, ?)`, mediaID, title)
	if err != nil {
		return 0, fmt.Errorf("create movie for media %d: %w", mediaID, err)
	}
	return id, nil
}
