// Package storage implements the pluggable persistence backend:
// snapshots, room settings, and legacy anonymous documents, behind one
// Store contract with three interchangeable implementations.
package storage

import (
	"context"

	"github.com/collab-docs/roomserver/internal/models"
)

// SnapshotMeta carries the client-supplied fields of a new or updated
// snapshot; the backend fills in ID and CreatedAt.
type SnapshotMeta struct {
	Name        string
	Description string
	Thumbnail   string
	CreatedBy   string
}

// Store is the uniform persistence contract. Every method is safe for
// concurrent use. Implementations: MemoryStore, FilesystemStore, SQLiteStore.
type Store interface {
	// CreateSnapshot enforces the per-room maxSnapshots cap (evicting the
	// oldest non-autosave snapshot first) and inserts a new snapshot with a
	// server-assigned id and createdAt. Returns the new id.
	CreateSnapshot(ctx context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error)

	// UpsertAutosaveSnapshot atomically replaces the room's autosave
	// snapshot (createdBy == models.AutosaveCreatedBy), creating it if
	// absent. Exempt from the maxSnapshots cap.
	UpsertAutosaveSnapshot(ctx context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error)

	// ListSnapshots returns metadata-only rows (Data omitted), sorted by
	// createdAt DESC then id DESC. Never NotFound; an unknown room yields
	// an empty slice.
	ListSnapshots(ctx context.Context, roomID string) ([]models.Snapshot, error)

	// GetSnapshot returns the full row including Data. NotFound if absent.
	GetSnapshot(ctx context.Context, id string) (models.Snapshot, error)

	// DeleteSnapshot removes a row. NotFound if absent.
	DeleteSnapshot(ctx context.Context, id string) error

	// UpdateSnapshotMetadata updates name/description in place, leaving
	// Data/Thumbnail/CreatedAt untouched. NotFound if absent.
	UpdateSnapshotMetadata(ctx context.Context, id, name, description string) error

	// GetRoomSettings returns the room's settings, or defaults if no row
	// exists. Never NotFound.
	GetRoomSettings(ctx context.Context, roomID string) (models.RoomSettings, error)

	// UpdateRoomSettings upserts settings, clamping out-of-range values to
	// their defaults.
	UpdateRoomSettings(ctx context.Context, roomID string, maxSnapshots, autoSaveInterval int) error

	// DeleteRoom removes all snapshots and settings for roomID.
	// Idempotent: absence is success.
	DeleteRoom(ctx context.Context, roomID string) error

	// Close releases any resources the backend holds open.
	Close() error
}
