package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
)

// TrackType mirrors item.TrackType without importing the prober's package,
// keeping the repository layer free of pipeline-stage dependencies.
type TrackType int

const (
	TrackAudio TrackType = iota
	TrackVideo
	TrackSubtitle
)

// TrackRepository provides CRUD for the raw stream rows a probed Item
// contributes per Media (spec §4.6 step 5).
type TrackRepository struct {
	db *database.DB
}

// NewTrackRepository constructs a TrackRepository.
func NewTrackRepository(db *database.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Create inserts one stream row for mediaID.
func (r *TrackRepository) Create(ctx context.Context, tx *sql.Tx, mediaID int64, t TrackType, codec string, bitrate int64, language, description string) (int64, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx, `
		INSERT INTO tracks (media_id, type, codec, bitrate, language, description)
		VALUES (?, ?, ?, ?, ?, ?)`, mediaID, t, codec, bitrate, language, description)
	if err != nil {
		return 0, fmt.Errorf("create track for media %d: %w", mediaID, err)
	}
	return id, nil
}

// CountByType returns how many tracks of a given type a media has, used to
// classify audio-only vs video media (spec §4.6 step 5).
func (r *TrackRepository) CountByType(ctx context.Context, mediaID int64, t TrackType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracks WHERE media_id = ? AND type = ?`, mediaID, t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tracks for media %d: %w", mediaID, err)
	}
	return n, nil
}
