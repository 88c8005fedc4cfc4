package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/models"
)

// documents is carried because the persistence backend's surface is
// shared with the legacy anonymous-share feature; no core operation
// exercises it.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id   TEXT PRIMARY KEY,
	data BLOB
);
CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL,
	name        TEXT,
	description TEXT,
	thumbnail   TEXT,
	created_by  TEXT,
	created_at  INTEGER NOT NULL,
	data        BLOB
);
CREATE INDEX IF NOT EXISTS idx_snapshots_room ON snapshots(room_id);
CREATE TABLE IF NOT EXISTS room_settings (
	room_id            TEXT PRIMARY KEY,
	max_snapshots      INTEGER NOT NULL,
	auto_save_interval INTEGER NOT NULL
);
`

// SQLiteStore is the embedded-SQL backend: a single *sql.DB over
// modernc.org/sqlite, with the cap-and-insert sequence run inside a
// transaction so eviction and insertion are atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the sqlite database at dsn
// and applies the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %q: %w", dsn, err)
	}
	// modernc.org/sqlite serializes writers at the driver level; a single
	// connection avoids SQLITE_BUSY under concurrent writers instead of
	// retrying on lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	defer tx.Rollback()

	cap, err := s.maxSnapshotsTx(ctx, tx, roomID)
	if err != nil {
		return "", err
	}
	if err := s.evictOldestNonAutosaveTx(ctx, tx, roomID, cap); err != nil {
		return "", err
	}

	id := newSnapshotID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, room_id, name, description, thumbnail, created_by, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, roomID, meta.Name, meta.Description, meta.Thumbnail, meta.CreatedBy, time.Now().UnixMilli(), data,
	)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	return id, nil
}

func (s *SQLiteStore) UpsertAutosaveSnapshot(ctx context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	defer tx.Rollback()

	var id string
	row := tx.QueryRowContext(ctx,
		`SELECT id FROM snapshots WHERE room_id = ? AND created_by = ? LIMIT 1`,
		roomID, models.AutosaveCreatedBy,
	)
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		id = newSnapshotID()
	case err != nil:
		return "", apperr.BackendUnavailable(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, room_id, name, description, thumbnail, created_by, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, description = excluded.description,
		   thumbnail = excluded.thumbnail, created_at = excluded.created_at, data = excluded.data`,
		id, roomID, meta.Name, meta.Description, meta.Thumbnail, models.AutosaveCreatedBy, time.Now().UnixMilli(), data,
	)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	return id, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, roomID string) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, name, description, thumbnail, created_by, created_at
		 FROM snapshots WHERE room_id = ? ORDER BY created_at DESC, id DESC`,
		roomID,
	)
	if err != nil {
		return nil, apperr.BackendUnavailable(err)
	}
	defer rows.Close()

	out := []models.Snapshot{}
	for rows.Next() {
		var sn models.Snapshot
		if err := rows.Scan(&sn.ID, &sn.RoomID, &sn.Name, &sn.Description, &sn.Thumbnail, &sn.CreatedBy, &sn.CreatedAt); err != nil {
			return nil, apperr.BackendUnavailable(err)
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.BackendUnavailable(err)
	}
	return out, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	var sn models.Snapshot
	var data []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, name, description, thumbnail, created_by, created_at, data
		 FROM snapshots WHERE id = ?`,
		id,
	)
	err := row.Scan(&sn.ID, &sn.RoomID, &sn.Name, &sn.Description, &sn.Thumbnail, &sn.CreatedBy, &sn.CreatedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, apperr.NotFound("snapshot not found")
	}
	if err != nil {
		return models.Snapshot{}, apperr.BackendUnavailable(err)
	}
	sn.Data = string(data)
	return sn, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	if n == 0 {
		return apperr.NotFound("snapshot not found")
	}
	return nil
}

func (s *SQLiteStore) UpdateSnapshotMetadata(ctx context.Context, id, name, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET name = ?, description = ? WHERE id = ?`,
		name, description, id,
	)
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	if n == 0 {
		return apperr.NotFound("snapshot not found")
	}
	return nil
}

func (s *SQLiteStore) GetRoomSettings(ctx context.Context, roomID string) (models.RoomSettings, error) {
	var settings models.RoomSettings
	row := s.db.QueryRowContext(ctx,
		`SELECT room_id, max_snapshots, auto_save_interval FROM room_settings WHERE room_id = ?`,
		roomID,
	)
	err := row.Scan(&settings.RoomID, &settings.MaxSnapshots, &settings.AutoSaveInterval)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultRoomSettings(roomID), nil
	}
	if err != nil {
		return models.RoomSettings{}, apperr.BackendUnavailable(err)
	}
	return settings, nil
}

func (s *SQLiteStore) UpdateRoomSettings(ctx context.Context, roomID string, maxSnapshots, autoSaveInterval int) error {
	maxSnapshots, autoSaveInterval = models.ClampSettings(maxSnapshots, autoSaveInterval)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_settings (room_id, max_snapshots, auto_save_interval) VALUES (?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET
		   max_snapshots = excluded.max_snapshots, auto_save_interval = excluded.auto_save_interval`,
		roomID, maxSnapshots, autoSaveInterval,
	)
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE room_id = ?`, roomID); err != nil {
		return apperr.BackendUnavailable(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_settings WHERE room_id = ?`, roomID); err != nil {
		return apperr.BackendUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.BackendUnavailable(err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// maxSnapshotsTx reads the room's effective cap inside tx.
func (s *SQLiteStore) maxSnapshotsTx(ctx context.Context, tx *sql.Tx, roomID string) (int, error) {
	var cap int
	row := tx.QueryRowContext(ctx, `SELECT max_snapshots FROM room_settings WHERE room_id = ?`, roomID)
	switch err := row.Scan(&cap); {
	case errors.Is(err, sql.ErrNoRows):
		return models.DefaultMaxSnapshots, nil
	case err != nil:
		return 0, apperr.BackendUnavailable(err)
	}
	return cap, nil
}

// evictOldestNonAutosaveTx removes the single oldest non-autosave
// snapshot in roomID if it is already at or above cap, inside tx.
func (s *SQLiteStore) evictOldestNonAutosaveTx(ctx context.Context, tx *sql.Tx, roomID string, cap int) error {
	var count int
	row := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE room_id = ? AND created_by != ?`,
		roomID, models.AutosaveCreatedBy,
	)
	if err := row.Scan(&count); err != nil {
		return apperr.BackendUnavailable(err)
	}
	if count < cap {
		return nil
	}

	var oldestID string
	row = tx.QueryRowContext(ctx,
		`SELECT id FROM snapshots WHERE room_id = ? AND created_by != ?
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		roomID, models.AutosaveCreatedBy,
	)
	switch err := row.Scan(&oldestID); {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return apperr.BackendUnavailable(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, oldestID); err != nil {
		return apperr.BackendUnavailable(err)
	}
	return nil
}
