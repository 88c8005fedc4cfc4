package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/models"
)

// backends returns one instance of every Store implementation, freshly
// constructed, so the contract tests below run identically against all
// three.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFilesystemStore(filepath.Join(t.TempDir(), "rooms"))
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		"memory":     NewMemoryStore(),
		"filesystem": fs,
		"sqlite":     sq,
	}
}

func TestStore_CreateAndGetSnapshot_RoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.CreateSnapshot(ctx, "room-1", SnapshotMeta{Name: "first"}, []byte("scene-bytes"))
			if err != nil {
				t.Fatalf("CreateSnapshot: %v", err)
			}

			got, err := store.GetSnapshot(ctx, id)
			if err != nil {
				t.Fatalf("GetSnapshot: %v", err)
			}
			if got.Data != "scene-bytes" {
				t.Errorf("Data = %q, want %q", got.Data, "scene-bytes")
			}
			if got.RoomID != "room-1" {
				t.Errorf("RoomID = %q, want room-1", got.RoomID)
			}
		})
	}
}

func TestStore_SnapshotCap_EvictsOldest(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.UpdateRoomSettings(ctx, "room-1", 3, 300); err != nil {
				t.Fatalf("UpdateRoomSettings: %v", err)
			}

			var ids []string
			for i := 0; i < 4; i++ {
				id, err := store.CreateSnapshot(ctx, "room-1", SnapshotMeta{Name: "s"}, []byte("x"))
				if err != nil {
					t.Fatalf("CreateSnapshot %d: %v", i, err)
				}
				ids = append(ids, id)
			}

			list, err := store.ListSnapshots(ctx, "room-1")
			if err != nil {
				t.Fatalf("ListSnapshots: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("len(list) = %d, want 3", len(list))
			}

			if _, err := store.GetSnapshot(ctx, ids[0]); !apperr.Is(err, apperr.KindNotFound) {
				t.Errorf("GetSnapshot(oldest) err = %v, want NotFound", err)
			}
		})
	}
}

func TestStore_UpsertAutosave_SingletonPerRoom(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id1, err := store.UpsertAutosaveSnapshot(ctx, "room-1", SnapshotMeta{}, []byte("first"))
			if err != nil {
				t.Fatalf("UpsertAutosaveSnapshot #1: %v", err)
			}
			id2, err := store.UpsertAutosaveSnapshot(ctx, "room-1", SnapshotMeta{}, []byte("second"))
			if err != nil {
				t.Fatalf("UpsertAutosaveSnapshot #2: %v", err)
			}
			if id1 != id2 {
				t.Errorf("autosave id changed across upserts: %s != %s", id1, id2)
			}

			got, err := store.GetSnapshot(ctx, id2)
			if err != nil {
				t.Fatalf("GetSnapshot: %v", err)
			}
			if got.Data != "second" {
				t.Errorf("Data = %q, want second", got.Data)
			}

			// A regular snapshot in the same room is unaffected by autosave upserts.
			nonAutoID, err := store.CreateSnapshot(ctx, "room-1", SnapshotMeta{}, []byte("regular"))
			if err != nil {
				t.Fatalf("CreateSnapshot: %v", err)
			}
			list, err := store.ListSnapshots(ctx, "room-1")
			if err != nil {
				t.Fatalf("ListSnapshots: %v", err)
			}
			found, autosaves := false, 0
			for _, s := range list {
				if s.ID == nonAutoID {
					found = true
				}
				if s.IsAutosave() {
					autosaves++
				}
			}
			if !found {
				t.Errorf("regular snapshot missing from ListSnapshots")
			}
			if autosaves != 1 {
				t.Errorf("autosave rows in listing = %d, want exactly 1", autosaves)
			}
		})
	}
}

func TestStore_RoomSettings_ClampAndDefault(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := store.GetRoomSettings(ctx, "unknown-room")
			if err != nil {
				t.Fatalf("GetRoomSettings: %v", err)
			}
			if got != models.DefaultRoomSettings("unknown-room") {
				t.Errorf("defaults = %+v, want %+v", got, models.DefaultRoomSettings("unknown-room"))
			}

			if err := store.UpdateRoomSettings(ctx, "room-1", 0, 1); err != nil {
				t.Fatalf("UpdateRoomSettings: %v", err)
			}
			got, err = store.GetRoomSettings(ctx, "room-1")
			if err != nil {
				t.Fatalf("GetRoomSettings: %v", err)
			}
			if got.MaxSnapshots != models.DefaultMaxSnapshots || got.AutoSaveInterval != models.DefaultAutoSaveInterval {
				t.Errorf("clamp failed: got %+v", got)
			}
		})
	}
}

func TestStore_DeleteRoom_Idempotent(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.CreateSnapshot(ctx, "room-1", SnapshotMeta{}, []byte("x")); err != nil {
				t.Fatalf("CreateSnapshot: %v", err)
			}
			if err := store.UpdateRoomSettings(ctx, "room-1", 5, 120); err != nil {
				t.Fatalf("UpdateRoomSettings: %v", err)
			}

			if err := store.DeleteRoom(ctx, "room-1"); err != nil {
				t.Fatalf("DeleteRoom: %v", err)
			}
			if err := store.DeleteRoom(ctx, "room-1"); err != nil {
				t.Fatalf("DeleteRoom (repeat): %v", err)
			}

			list, err := store.ListSnapshots(ctx, "room-1")
			if err != nil {
				t.Fatalf("ListSnapshots: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("len(list) = %d, want 0", len(list))
			}
			settings, err := store.GetRoomSettings(ctx, "room-1")
			if err != nil {
				t.Fatalf("GetRoomSettings: %v", err)
			}
			if settings != models.DefaultRoomSettings("room-1") {
				t.Errorf("settings after delete = %+v, want defaults", settings)
			}
		})
	}
}

func TestFilesystemStore_RejectsPathTraversal(t *testing.T) {
	fs, err := NewFilesystemStore(filepath.Join(t.TempDir(), "rooms"))
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	ctx := context.Background()

	for _, roomID := range []string{"../evil", "a/b", `a\b`, "..", ".", ""} {
		if _, err := fs.CreateSnapshot(ctx, roomID, SnapshotMeta{}, []byte("x")); !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("CreateSnapshot(%q) err = %v, want BadRequest", roomID, err)
		}
		if _, err := fs.ListSnapshots(ctx, roomID); !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("ListSnapshots(%q) err = %v, want BadRequest", roomID, err)
		}
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.GetSnapshot(ctx, "does-not-exist"); !apperr.Is(err, apperr.KindNotFound) {
				t.Errorf("GetSnapshot err = %v, want NotFound", err)
			}
			if err := store.DeleteSnapshot(ctx, "does-not-exist"); !apperr.Is(err, apperr.KindNotFound) {
				t.Errorf("DeleteSnapshot err = %v, want NotFound", err)
			}
			if err := store.UpdateSnapshotMetadata(ctx, "does-not-exist", "n", "d"); !apperr.Is(err, apperr.KindNotFound) {
				t.Errorf("UpdateSnapshotMetadata err = %v, want NotFound", err)
			}
		})
	}
}
