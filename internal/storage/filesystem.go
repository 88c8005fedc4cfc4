package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/models"
)

// FilesystemStore persists one directory per room: snapshots as one file
// per id under <room>/snapshots/, settings in a sibling settings.json.
// Cap-and-insert is serialized through a single mutex since there is no
// transactional primitive at the filesystem level.
type FilesystemStore struct {
	root string
	mu   sync.Mutex
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", root, err)
	}
	return &FilesystemStore{root: root}, nil
}

// roomDir sanitizes roomID, forbidding path separators, and returns its
// directory, guaranteed to resolve under root.
func (f *FilesystemStore) roomDir(roomID string) (string, error) {
	if roomID == "" || strings.ContainsAny(roomID, "/\\") || roomID == "." || roomID == ".." {
		return "", apperr.BadRequest("invalid room id")
	}
	dir := filepath.Join(f.root, roomID)
	return f.confine(dir)
}

// snapshotPath resolves the path for a snapshot id under a room's
// snapshots directory, rejecting any traversal attempt.
func (f *FilesystemStore) snapshotPath(roomID, id string) (string, error) {
	dir, err := f.roomDir(roomID)
	if err != nil {
		return "", err
	}
	if id == "" || strings.ContainsAny(id, "/\\") {
		return "", apperr.BadRequest("invalid snapshot id")
	}
	return f.confine(filepath.Join(dir, "snapshots", id))
}

// confine resolves path and rejects it unless it remains lexically under
// f.root.
func (f *FilesystemStore) confine(path string) (string, error) {
	absRoot, err := filepath.Abs(f.root)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", apperr.BadRequest("path escapes storage root")
	}
	return absPath, nil
}

func (f *FilesystemStore) settingsPath(roomID string) (string, error) {
	dir, err := f.roomDir(roomID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

func (f *FilesystemStore) listSnapshotFiles(roomID string) ([]string, error) {
	dir, err := f.roomDir(roomID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, "snapshots"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.BackendUnavailable(err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (f *FilesystemStore) readSnapshot(roomID, id string) (models.Snapshot, error) {
	path, err := f.snapshotPath(roomID, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.Snapshot{}, apperr.NotFound("snapshot not found")
	}
	if err != nil {
		return models.Snapshot{}, apperr.BackendUnavailable(err)
	}
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return models.Snapshot{}, apperr.BackendUnavailable(err)
	}
	return s, nil
}

func (f *FilesystemStore) writeSnapshot(s models.Snapshot) error {
	path, err := f.snapshotPath(s.RoomID, s.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.BackendUnavailable(err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return apperr.BackendUnavailable(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperr.BackendUnavailable(err)
	}
	return nil
}

// findSnapshotRoom locates which room directory under root holds id,
// since GetSnapshot/DeleteSnapshot take only an id.
func (f *FilesystemStore) findSnapshotRoom(id string) (string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return "", apperr.BackendUnavailable(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(f.root, e.Name(), "snapshots", id)
		if _, err := os.Stat(path); err == nil {
			return e.Name(), nil
		}
	}
	return "", apperr.NotFound("snapshot not found")
}

func (f *FilesystemStore) CreateSnapshot(_ context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	settings, err := f.getSettingsLocked(roomID)
	if err != nil {
		return "", err
	}
	if err := f.evictOldestNonAutosaveLocked(roomID, settings.MaxSnapshots); err != nil {
		return "", err
	}

	id := newSnapshotID()
	s := models.Snapshot{
		ID:          id,
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   meta.CreatedBy,
		CreatedAt:   time.Now().UnixMilli(),
		Data:        string(data),
	}
	if err := f.writeSnapshot(s); err != nil {
		return "", err
	}
	return id, nil
}

func (f *FilesystemStore) UpsertAutosaveSnapshot(_ context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.listSnapshotFiles(roomID)
	if err != nil {
		return "", err
	}
	id := ""
	for _, sid := range ids {
		s, err := f.readSnapshot(roomID, sid)
		if err != nil {
			continue
		}
		if s.IsAutosave() {
			id = sid
			break
		}
	}
	if id == "" {
		id = newSnapshotID()
	}
	s := models.Snapshot{
		ID:          id,
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   models.AutosaveCreatedBy,
		CreatedAt:   time.Now().UnixMilli(),
		Data:        string(data),
	}
	if err := f.writeSnapshot(s); err != nil {
		return "", err
	}
	return id, nil
}

func (f *FilesystemStore) ListSnapshots(_ context.Context, roomID string) ([]models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.listSnapshotFiles(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Snapshot, 0, len(ids))
	for _, id := range ids {
		s, err := f.readSnapshot(roomID, id)
		if err != nil {
			continue
		}
		s.Data = ""
		out = append(out, s)
	}
	sortSnapshotsDesc(out)
	return out, nil
}

func (f *FilesystemStore) GetSnapshot(_ context.Context, id string) (models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	roomID, err := f.findSnapshotRoom(id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return f.readSnapshot(roomID, id)
}

func (f *FilesystemStore) DeleteSnapshot(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	roomID, err := f.findSnapshotRoom(id)
	if err != nil {
		return err
	}
	path, err := f.snapshotPath(roomID, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return apperr.BackendUnavailable(err)
	}
	return nil
}

func (f *FilesystemStore) UpdateSnapshotMetadata(_ context.Context, id, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	roomID, err := f.findSnapshotRoom(id)
	if err != nil {
		return err
	}
	s, err := f.readSnapshot(roomID, id)
	if err != nil {
		return err
	}
	s.Name = name
	s.Description = description
	return f.writeSnapshot(s)
}

func (f *FilesystemStore) getSettingsLocked(roomID string) (models.RoomSettings, error) {
	path, err := f.settingsPath(roomID)
	if err != nil {
		return models.RoomSettings{}, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.DefaultRoomSettings(roomID), nil
	}
	if err != nil {
		return models.RoomSettings{}, apperr.BackendUnavailable(err)
	}
	var s models.RoomSettings
	if err := json.Unmarshal(b, &s); err != nil {
		return models.RoomSettings{}, apperr.BackendUnavailable(err)
	}
	return s, nil
}

func (f *FilesystemStore) GetRoomSettings(_ context.Context, roomID string) (models.RoomSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getSettingsLocked(roomID)
}

func (f *FilesystemStore) UpdateRoomSettings(_ context.Context, roomID string, maxSnapshots, autoSaveInterval int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	maxSnapshots, autoSaveInterval = models.ClampSettings(maxSnapshots, autoSaveInterval)
	path, err := f.settingsPath(roomID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.BackendUnavailable(err)
	}
	s := models.RoomSettings{RoomID: roomID, MaxSnapshots: maxSnapshots, AutoSaveInterval: autoSaveInterval}
	b, err := json.Marshal(s)
	if err != nil {
		return apperr.BackendUnavailable(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return apperr.BackendUnavailable(err)
	}
	return nil
}

func (f *FilesystemStore) DeleteRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.roomDir(roomID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return apperr.BackendUnavailable(err)
	}
	return nil
}

func (f *FilesystemStore) Close() error { return nil }

// evictOldestNonAutosaveLocked removes the single oldest non-autosave
// snapshot if the room is already at or above cap; f.mu must be held.
func (f *FilesystemStore) evictOldestNonAutosaveLocked(roomID string, cap int) error {
	ids, err := f.listSnapshotFiles(roomID)
	if err != nil {
		return err
	}
	var candidates []models.Snapshot
	for _, id := range ids {
		s, err := f.readSnapshot(roomID, id)
		if err != nil || s.IsAutosave() {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) < cap {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt != candidates[j].CreatedAt {
			return candidates[i].CreatedAt < candidates[j].CreatedAt
		}
		return candidates[i].ID < candidates[j].ID
	})
	oldest := candidates[0]
	path, err := f.snapshotPath(roomID, oldest.ID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.BackendUnavailable(err)
	}
	return nil
}
