package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/models"
)

// FileRepository provides CRUD for File rows.
type FileRepository struct {
	db *database.DB
}

// NewFileRepository constructs a FileRepository.
func NewFileRepository(db *database.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, media_id, mrl, type, last_modification_date, size, is_removable, folder_id, is_external`

func scanFile(row interface{ Scan(dest ...interface{}) error }) (*models.File, error) {
	var f models.File
	err := row.Scan(&f.ID, &f.MediaID, &f.Mrl, &f.Type, &f.LastModificationDate, &f.Size,
		&f.IsRemovable, &f.FolderID, &f.IsExternal)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a File row (the "exactly one Main/Disc file per
// non-external Media" invariant from spec §3 is enforced by callers, not
// here — the analyzer's transaction owns that invariant).
func (r *FileRepository) Create(ctx context.Context, tx *sql.Tx, f *models.File) (int64, error) {
	id, err := r.db.TxInsertReturningID(ctx, tx, `
		INSERT INTO files (media_id, mrl, type, last_modification_date, size, is_removable, folder_id, is_external)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.MediaID, f.Mrl, f.Type, f.LastModificationDate, f.Size, f.IsRemovable, f.FolderID, f.IsExternal)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	f.ID = id
	return id, nil
}

// GetByMrl finds a File by its unique mrl.
func (r *FileRepository) GetByMrl(ctx context.Context, mrl string) (*models.File, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM files WHERE mrl = ?", fileColumns), mrl)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file by mrl %q: %w", mrl, err)
	}
	return f, nil
}

// GetByID loads a File by id.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (*models.File, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM files WHERE id = ?", fileColumns), id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %d: %w", id, err)
	}
	return f, nil
}

// FolderIDForFile returns the folder id a file belongs to, used by the
// album-disambiguation folder-equality tie-break (spec §4.6.3.d).
func (r *FileRepository) FolderIDForFile(ctx context.Context, fileID int64) (*int64, error) {
	var folderID sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT folder_id FROM files WHERE id = ?`, fileID).Scan(&folderID)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("folder for file %d: %w", fileID, err)
	}
	if !folderID.Valid {
		return nil, nil
	}
	return &folderID.Int64, nil
}
