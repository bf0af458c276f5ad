package database

import (
	"context"
	"fmt"
)

// Migration is one ordered, named schema change, applied at most once per
// database file (tracked in the migrations table).
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, db *DB) error
}

var migrations = []Migration{
	{1, "create_core_tables", createCoreTables},
	{2, "create_fts_mirrors", createFTSMirrors},
	{3, "create_triggers", createTriggers},
	{4, "seed_sentinel_artists", seedSentinelArtists},
}

// RunMigrations applies, in order, every migration not yet recorded in the
// migrations table. Each migration runs directly on the connection, not
// inside a transaction.
func (db *DB) RunMigrations(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.migrationApplied(ctx, m.Version)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}
		if err := m.Up(ctx, db); err != nil {
			return fmt.Errorf("run migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := db.recordMigration(ctx, m); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func (db *DB) migrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM migrations WHERE version = ?`, version).Scan(&count)
	return count > 0, err
}

func (db *DB) recordMigration(ctx context.Context, m Migration) error {
	_, err := db.ExecContext(ctx, `INSERT INTO migrations (version, name) VALUES (?, ?)`, m.Version, m.Name)
	return err
}

func createCoreTables(ctx context.Context, db *DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			scheme TEXT NOT NULL,
			is_removable BOOLEAN NOT NULL DEFAULT 0,
			is_present BOOLEAN NOT NULL DEFAULT 1,
			last_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS folders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mrl TEXT NOT NULL,
			parent_id INTEGER REFERENCES folders(id),
			device_id INTEGER NOT NULL REFERENCES devices(id)
		)`,
		`CREATE TABLE IF NOT EXISTS thumbnails (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mrl TEXT NOT NULL DEFAULT '',
			origin INTEGER NOT NULL,
			is_generated BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS artists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			thumbnail_id INTEGER REFERENCES thumbnails(id),
			nb_tracks INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS genres (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS albums (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			album_artist_id INTEGER NOT NULL REFERENCES artists(id),
			release_year INTEGER,
			thumbnail_id INTEGER REFERENCES thumbnails(id),
			nb_tracks INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_albums_title ON albums(title)`,
		`CREATE TABLE IF NOT EXISTS album_artists (
			album_id INTEGER NOT NULL REFERENCES albums(id),
			artist_id INTEGER NOT NULL REFERENCES artists(id),
			is_featuring BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (album_id, artist_id)
		)`,
		`CREATE TABLE IF NOT EXISTS shows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			thumbnail_id INTEGER REFERENCES thumbnails(id)
		)`,
		`CREATE TABLE IF NOT EXISTS media (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type INTEGER NOT NULL DEFAULT 0,
			sub_type INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT -1,
			play_count INTEGER NOT NULL DEFAULT 0,
			last_played_date TIMESTAMP,
			real_last_played_date TIMESTAMP,
			insertion_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			release_year INTEGER,
			thumbnail_id INTEGER REFERENCES thumbnails(id),
			title TEXT NOT NULL,
			filename TEXT NOT NULL,
			is_favorite BOOLEAN NOT NULL DEFAULT 0,
			nb_playlists INTEGER NOT NULL DEFAULT 0,
			device_id INTEGER REFERENCES devices(id),
			folder_id INTEGER REFERENCES folders(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_title ON media(title)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id INTEGER NOT NULL REFERENCES media(id),
			mrl TEXT NOT NULL UNIQUE,
			type INTEGER NOT NULL,
			last_modification_date TIMESTAMP,
			size INTEGER NOT NULL DEFAULT 0,
			is_removable BOOLEAN NOT NULL DEFAULT 0,
			folder_id INTEGER REFERENCES folders(id),
			is_external BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_media ON files(media_id)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id INTEGER NOT NULL REFERENCES media(id),
			type INTEGER NOT NULL,
			codec TEXT NOT NULL DEFAULT '',
			bitrate INTEGER NOT NULL DEFAULT 0,
			language TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_media ON tracks(media_id)`,
		`CREATE TABLE IF NOT EXISTS album_tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id INTEGER NOT NULL UNIQUE REFERENCES media(id),
			album_id INTEGER NOT NULL REFERENCES albums(id),
			artist_id INTEGER NOT NULL REFERENCES artists(id),
			genre_id INTEGER REFERENCES genres(id),
			track_number INTEGER NOT NULL DEFAULT 0,
			disc_number INTEGER NOT NULL DEFAULT 1,
			duration_ms INTEGER NOT NULL DEFAULT -1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_album_tracks_album ON album_tracks(album_id)`,
		`CREATE TABLE IF NOT EXISTS show_episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id INTEGER NOT NULL UNIQUE REFERENCES media(id),
			show_id INTEGER NOT NULL REFERENCES shows(id),
			episode_number INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_show_episodes_show ON show_episodes(show_id)`,
		`CREATE TABLE IF NOT EXISTS movies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id INTEGER NOT NULL UNIQUE REFERENCES media(id),
			title TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			file_id INTEGER NOT NULL REFERENCES files(id)
		)`,
		`CREATE TABLE IF NOT EXISTS playlist_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			playlist_id INTEGER NOT NULL REFERENCES playlists(id),
			idx INTEGER NOT NULL,
			media_id INTEGER REFERENCES media(id),
			mrl TEXT NOT NULL,
			UNIQUE (playlist_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id INTEGER NOT NULL REFERENCES media(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			UNIQUE (media_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			step_done INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			mrl TEXT NOT NULL,
			file_id INTEGER REFERENCES files(id),
			media_id INTEGER REFERENCES media(id),
			parent_folder_id INTEGER NOT NULL REFERENCES folders(id),
			parent_playlist_id INTEGER REFERENCES playlists(id),
			parent_playlist_index INTEGER,
			is_refresh BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_step ON tasks(step_done, retry_count)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL DEFAULT 1,
			unknown_artist_id INTEGER NOT NULL DEFAULT 1,
			various_artists_id INTEGER NOT NULL DEFAULT 2
		)`,
		`INSERT OR IGNORE INTO settings (id, schema_version) VALUES (1, 1)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func createFTSMirrors(ctx context.Context, db *DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS media_fts USING fts5(title, filename, content='media', content_rowid='id')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS album_fts USING fts5(title, content='albums', content_rowid='id')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS artist_fts USING fts5(name, content='artists', content_rowid='id')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS genre_fts USING fts5(name, content='genres', content_rowid='id')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS show_fts USING fts5(name, content='shows', content_rowid='id')`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// createTriggers wires the FTS mirrors and the nb_playlists cache to their
// base tables so observers never see them drift, matching the teacher's
// trigger-based updated_at maintenance pattern.
func createTriggers(ctx context.Context, db *DB) error {
	stmts := []string{
		`CREATE TRIGGER IF NOT EXISTS media_ai AFTER INSERT ON media BEGIN
			INSERT INTO media_fts(rowid, title, filename) VALUES (new.id, new.title, new.filename);
		END`,
		`CREATE TRIGGER IF NOT EXISTS media_ad AFTER DELETE ON media BEGIN
			INSERT INTO media_fts(media_fts, rowid, title, filename) VALUES ('delete', old.id, old.title, old.filename);
		END`,
		`CREATE TRIGGER IF NOT EXISTS media_au AFTER UPDATE ON media BEGIN
			INSERT INTO media_fts(media_fts, rowid, title, filename) VALUES ('delete', old.id, old.title, old.filename);
			INSERT INTO media_fts(rowid, title, filename) VALUES (new.id, new.title, new.filename);
		END`,
		`CREATE TRIGGER IF NOT EXISTS albums_ai AFTER INSERT ON albums BEGIN
			INSERT INTO album_fts(rowid, title) VALUES (new.id, new.title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS albums_ad AFTER DELETE ON albums BEGIN
			INSERT INTO album_fts(album_fts, rowid, title) VALUES ('delete', old.id, old.title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS artists_ai AFTER INSERT ON artists BEGIN
			INSERT INTO artist_fts(rowid, name) VALUES (new.id, new.name);
		END`,
		`CREATE TRIGGER IF NOT EXISTS artists_ad AFTER DELETE ON artists BEGIN
			INSERT INTO artist_fts(artist_fts, rowid, name) VALUES ('delete', old.id, old.name);
		END`,
		`CREATE TRIGGER IF NOT EXISTS genres_ai AFTER INSERT ON genres BEGIN
			INSERT INTO genre_fts(rowid, name) VALUES (new.id, new.name);
		END`,
		`CREATE TRIGGER IF NOT EXISTS genres_ad AFTER DELETE ON genres BEGIN
			INSERT INTO genre_fts(genre_fts, rowid, name) VALUES ('delete', old.id, old.name);
		END`,
		`CREATE TRIGGER IF NOT EXISTS shows_ai AFTER INSERT ON shows BEGIN
			INSERT INTO show_fts(rowid, name) VALUES (new.id, new.name);
		END`,
		`CREATE TRIGGER IF NOT EXISTS shows_ad AFTER DELETE ON shows BEGIN
			INSERT INTO show_fts(show_fts, rowid, name) VALUES ('delete', old.id, old.name);
		END`,
		// nb_playlists cache maintenance (spec.md §6 "PlaylistMediaRelation insert/delete").
		`CREATE TRIGGER IF NOT EXISTS playlist_items_ai AFTER INSERT ON playlist_items
		 WHEN new.media_id IS NOT NULL BEGIN
			UPDATE media SET nb_playlists = nb_playlists + 1 WHERE id = new.media_id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS playlist_items_ad AFTER DELETE ON playlist_items
		 WHEN old.media_id IS NOT NULL BEGIN
			UPDATE media SET nb_playlists = nb_playlists - 1 WHERE id = old.media_id;
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// seedSentinelArtists provisions UnknownArtist (id=1) and VariousArtists
// (id=2) at fixed ids, per spec.md §9.
func seedSentinelArtists(ctx context.Context, db *DB) error {
	stmts := []string{
		`INSERT OR IGNORE INTO artists (id, name) VALUES (1, 'Unknown Artist')`,
		`INSERT OR IGNORE INTO artists (id, name) VALUES (2, 'Various Artists')`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
