package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/models"
)

// PlaylistRepository provides CRUD for Playlist and PlaylistItem rows.
type PlaylistRepository struct {
	db *database.DB
}

// NewPlaylistRepository constructs a PlaylistRepository.
func NewPlaylistRepository(db *database.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Create inserts a Playlist row titled by the Title tag or the URL-decoded
// file name (spec §4.6 step 1), attached to its backing File.
func (r *PlaylistRepository) Create(ctx context.Context, tx *sql.Tx, title string, fileID int64) (*models.Playlist, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx,
		`INSERT INTO playlists (title, file_id) VALUES (?, ?)`, title, fileID)
	if err != nil {
		return nil, fmt.Errorf("create playlist %q: %w", title, err)
	}
	return &models.Playlist{ID: id, Title: title, FileID: fileID}, nil
}

// AddItem links a 1-indexed sub-item to the playlist, optionally already
// resolved to a Media.
func (r *PlaylistRepository) AddItem(ctx context.Context, tx *sql.Tx, playlistID int64, index int, mediaID *int64, mrl string) (int64, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx,
		`INSERT INTO playlist_items (playlist_id, idx, media_id, mrl) VALUES (?, ?, ?, ?)`,
		playlistID, index, mediaID, mrl)
	if err != nil {
		return 0, fmt.Errorf("add playlist item %d to playlist %d: %w", index, playlistID, err)
	}
	return id, nil
}

// LinkMedia resolves a previously-unresolved playlist item, by item id, to
// a Media id. The pipeline does not call it; it links items by position
// through LinkMediaByIndex.
func (r *PlaylistRepository) LinkMedia(ctx context.Context, itemID, mediaID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE playlist_items SET media_id = ? WHERE id = ?`, mediaID, itemID)
	if err != nil {
		return fmt.Errorf("link playlist item %d to media %d: %w", itemID, mediaID, err)
	}
	return nil
}

// LinkMediaByIndex resolves the item at (playlistID, index) to mediaID,
// used to attach a freshly created Media to the parent playlist a task
// carries (spec §4.6 step 3).
func (r *PlaylistRepository) LinkMediaByIndex(ctx context.Context, tx *sql.Tx, playlistID int64, index int, mediaID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE playlist_items SET media_id = ? WHERE playlist_id = ? AND idx = ?`, mediaID, playlistID, index)
	if err != nil {
		return fmt.Errorf("link playlist %d index %d to media %d: %w", playlistID, index, mediaID, err)
	}
	return nil
}

// ItemsForPlaylist returns every item of a playlist ordered by index, used
// by the round-trip law in spec §8 ("N sub-item mrls ... in the same
// 1-based order").
func (r *PlaylistRepository) ItemsForPlaylist(ctx context.Context, playlistID int64) ([]*models.PlaylistItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, playlist_id, idx, media_id, mrl FROM playlist_items WHERE playlist_id = ? ORDER BY idx ASC`,
		playlistID)
	if err != nil {
		return nil, fmt.Errorf("list items for playlist %d: %w", playlistID, err)
	}
	defer rows.Close()

	var items []*models.PlaylistItem
	for rows.Next() {
		var it models.PlaylistItem
		if err := rows.Scan(&it.ID, &it.PlaylistID, &it.Index, &it.MediaID, &it.Mrl); err != nil {
			return nil, fmt.Errorf("scan playlist item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ThumbnailRepository provides CRUD for Thumbnail rows.
type ThumbnailRepository struct {
	db *database.DB
}

// NewThumbnailRepository constructs a ThumbnailRepository.
func NewThumbnailRepository(db *database.DB) *ThumbnailRepository {
	return &ThumbnailRepository{db: db}
}

// Create inserts a Thumbnail row. is_generated stays true even when mrl is
// empty (a failed generation sentinel), preventing retries (spec §3, §4.7).
func (r *ThumbnailRepository) Create(ctx context.Context, tx *sql.Tx, mrl string, origin models.ThumbnailOrigin, isGenerated bool) (*models.Thumbnail, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx,
		`INSERT INTO thumbnails (mrl, origin, is_generated) VALUES (?, ?, ?)`, mrl, origin, isGenerated)
	if err != nil {
		return nil, fmt.Errorf("create thumbnail: %w", err)
	}
	return &models.Thumbnail{ID: id, Mrl: mrl, Origin: origin, IsGenerated: isGenerated}, nil
}

// GetByID loads a Thumbnail row.
func (r *ThumbnailRepository) GetByID(ctx context.Context, id int64) (*models.Thumbnail, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, mrl, origin, is_generated FROM thumbnails WHERE id = ?`, id)
	var t models.Thumbnail
	err := row.Scan(&t.ID, &t.Mrl, &t.Origin, &t.IsGenerated)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thumbnail %d: %w", id, err)
	}
	return &t, nil
}

// MetadataRepository provides CRUD for free-form Metadata rows.
type MetadataRepository struct {
	db *database.DB
}

// NewMetadataRepository constructs a MetadataRepository.
func NewMetadataRepository(db *database.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Set upserts a key/value pair for a media.
func (r *MetadataRepository) Set(ctx context.Context, tx *sql.Tx, mediaID int64, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (media_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (media_id, key) DO UPDATE SET value = excluded.value`, mediaID, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s for media %d: %w", key, mediaID, err)
	}
	return nil
}
