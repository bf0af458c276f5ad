package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/models"
)

// MediaRepository provides CRUD and lookup methods for Media rows.
type MediaRepository struct {
	db *database.DB
}

// NewMediaRepository constructs a MediaRepository.
func NewMediaRepository(db *database.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

const mediaColumns = `id, type, sub_type, duration_ms, play_count, last_played_date,
	real_last_played_date, insertion_date, release_year, thumbnail_id, title, filename,
	is_favorite, nb_playlists, device_id, folder_id`

func scanMedia(row interface{ Scan(dest ...interface{}) error }) (*models.Media, error) {
	var m models.Media
	err := row.Scan(&m.ID, &m.Type, &m.SubType, &m.DurationMs, &m.PlayCount, &m.LastPlayedDate,
		&m.RealLastPlayedDate, &m.InsertionDate, &m.ReleaseYear, &m.ThumbnailID, &m.Title, &m.Filename,
		&m.IsFavorite, &m.NbPlaylists, &m.DeviceID, &m.FolderID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new Media row with the given type and title/filename,
// duration defaulting to -1 (unknown), per spec §3.
func (r *MediaRepository) Create(ctx context.Context, tx *sql.Tx, m *models.Media) (int64, error) {
	if m.DurationMs == 0 {
		m.DurationMs = -1
	}
	id, err := r.db.TxInsertReturningID(ctx, tx, `
		INSERT INTO media (type, sub_type, duration_ms, title, filename, device_id, folder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Type, m.SubType, m.DurationMs, m.Title, m.Filename, m.DeviceID, m.FolderID)
	if err != nil {
		return 0, fmt.Errorf("create media: %w", err)
	}
	m.ID = id
	return id, nil
}

// GetByID loads a Media row, or database.ErrNotFound.
func (r *MediaRepository) GetByID(ctx context.Context, id int64) (*models.Media, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM media WHERE id = ?", mediaColumns), id)
	m, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media %d: %w", id, err)
	}
	return m, nil
}

// GetByMrl finds the Media owning a File with the given mrl, used by the
// analyzer's duplicate-reload path (spec §4.6 step 2).
func (r *MediaRepository) GetByMrl(ctx context.Context, mrl string) (*models.Media, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM media WHERE id = (SELECT media_id FROM files WHERE mrl = ?)",
		mediaColumns), mrl)
	m, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media by mrl %q: %w", mrl, err)
	}
	return m, nil
}

// UpdateTypeAndSubType sets the resolved Type/SubType once the analyzer's
// video/audio branch has classified the media.
func (r *MediaRepository) UpdateTypeAndSubType(ctx context.Context, tx *sql.Tx, id int64, t models.MediaType, st models.MediaSubType) error {
	_, err := tx.ExecContext(ctx, `UPDATE media SET type = ?, sub_type = ? WHERE id = ?`, t, st, id)
	if err != nil {
		return fmt.Errorf("update media type %d: %w", id, err)
	}
	return nil
}

// SetTitle updates the title (the video branch's setTitleBuffered, flushed
// at media.save()).
func (r *MediaRepository) SetTitle(ctx context.Context, tx *sql.Tx, id int64, title string) error {
	_, err := tx.ExecContext(ctx, `UPDATE media SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("set title for media %d: %w", id, err)
	}
	return nil
}

// SetThumbnail attaches a Thumbnail to a Media.
func (r *MediaRepository) SetThumbnail(ctx context.Context, tx *sql.Tx, id, thumbnailID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE media SET thumbnail_id = ? WHERE id = ?`, thumbnailID, id)
	if err != nil {
		return fmt.Errorf("set thumbnail for media %d: %w", id, err)
	}
	return nil
}

// SetDuration sets duration_ms once the analyzer has persisted track rows.
func (r *MediaRepository) SetDuration(ctx context.Context, tx *sql.Tx, id int64, durationMs int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE media SET duration_ms = ? WHERE id = ?`, durationMs, id)
	if err != nil {
		return fmt.Errorf("set duration for media %d: %w", id, err)
	}
	return nil
}

// SetReleaseYear sets the media-level release_year (distinct from the
// album's soft reconciliation).
func (r *MediaRepository) SetReleaseYear(ctx context.Context, tx *sql.Tx, id int64, year int) error {
	_, err := tx.ExecContext(ctx, `UPDATE media SET release_year = ? WHERE id = ?`, year, id)
	if err != nil {
		return fmt.Errorf("set release year for media %d: %w", id, err)
	}
	return nil
}

// ListPresent returns media ids belonging to present devices or with no
// device at all, implementing the "is_present filter" invariant (spec §8).
func (r *MediaRepository) ListPresent(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id FROM media m
		LEFT JOIN devices d ON d.id = m.device_id
		WHERE m.device_id IS NULL OR d.is_present = 1`)
	if err != nil {
		return nil, fmt.Errorf("list present media: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan media id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
