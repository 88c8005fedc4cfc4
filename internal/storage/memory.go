package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/models"
)

// MemoryStore is a process-lifetime-only backend: a reader-writer lock
// around a top-level roomId -> room-state mapping, the same shape the
// room registry uses for its own membership map.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*memRoom
}

type memRoom struct {
	snapshots map[string]models.Snapshot
	settings  *models.RoomSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memRoom)}
}

func (m *MemoryStore) room(roomID string, create bool) *memRoom {
	r, ok := m.rooms[roomID]
	if !ok && create {
		r = &memRoom{snapshots: make(map[string]models.Snapshot)}
		m.rooms[roomID] = r
	}
	return r
}

func (m *MemoryStore) CreateSnapshot(_ context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID, true)
	evictOldestNonAutosaveLocked(r, maxSnapshotsLocked(r))

	id := newSnapshotID()
	r.snapshots[id] = models.Snapshot{
		ID:          id,
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   meta.CreatedBy,
		CreatedAt:   time.Now().UnixMilli(),
		Data:        string(data),
	}
	return id, nil
}

func (m *MemoryStore) UpsertAutosaveSnapshot(_ context.Context, roomID string, meta SnapshotMeta, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID, true)
	var id string
	for sid, snap := range r.snapshots {
		if snap.IsAutosave() {
			id = sid
			break
		}
	}
	if id == "" {
		id = newSnapshotID()
	}
	r.snapshots[id] = models.Snapshot{
		ID:          id,
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   models.AutosaveCreatedBy,
		CreatedAt:   time.Now().UnixMilli(),
		Data:        string(data),
	}
	return id, nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, roomID string) ([]models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return []models.Snapshot{}, nil
	}
	out := make([]models.Snapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		s.Data = ""
		out = append(out, s)
	}
	sortSnapshotsDesc(out)
	return out, nil
}

func (m *MemoryStore) GetSnapshot(_ context.Context, id string) (models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rooms {
		if s, ok := r.snapshots[id]; ok {
			return s, nil
		}
	}
	return models.Snapshot{}, apperr.NotFound("snapshot not found")
}

func (m *MemoryStore) DeleteSnapshot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rooms {
		if _, ok := r.snapshots[id]; ok {
			delete(r.snapshots, id)
			return nil
		}
	}
	return apperr.NotFound("snapshot not found")
}

func (m *MemoryStore) UpdateSnapshotMetadata(_ context.Context, id, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rooms {
		if s, ok := r.snapshots[id]; ok {
			s.Name = name
			s.Description = description
			r.snapshots[id] = s
			return nil
		}
	}
	return apperr.NotFound("snapshot not found")
}

func (m *MemoryStore) GetRoomSettings(_ context.Context, roomID string) (models.RoomSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok || r.settings == nil {
		return models.DefaultRoomSettings(roomID), nil
	}
	return *r.settings, nil
}

func (m *MemoryStore) UpdateRoomSettings(_ context.Context, roomID string, maxSnapshots, autoSaveInterval int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxSnapshots, autoSaveInterval = models.ClampSettings(maxSnapshots, autoSaveInterval)
	r := m.room(roomID, true)
	r.settings = &models.RoomSettings{
		RoomID:           roomID,
		MaxSnapshots:     maxSnapshots,
		AutoSaveInterval: autoSaveInterval,
	}
	return nil
}

func (m *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// maxSnapshotsLocked returns the room's effective cap; m.mu must be held.
func maxSnapshotsLocked(r *memRoom) int {
	if r.settings == nil {
		return models.DefaultMaxSnapshots
	}
	return r.settings.MaxSnapshots
}

// evictOldestNonAutosaveLocked removes the single oldest non-autosave
// snapshot if the room is already at or above cap; m.mu must be held.
func evictOldestNonAutosaveLocked(r *memRoom, cap int) {
	count := 0
	for _, s := range r.snapshots {
		if !s.IsAutosave() {
			count++
		}
	}
	if count < cap {
		return
	}
	var oldestID string
	var oldest models.Snapshot
	found := false
	for id, s := range r.snapshots {
		if s.IsAutosave() {
			continue
		}
		if !found || s.CreatedAt < oldest.CreatedAt || (s.CreatedAt == oldest.CreatedAt && id < oldestID) {
			oldest = s
			oldestID = id
			found = true
		}
	}
	if found {
		delete(r.snapshots, oldestID)
	}
}

func sortSnapshotsDesc(s []models.Snapshot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt != s[j].CreatedAt {
			return s[i].CreatedAt > s[j].CreatedAt
		}
		return s[i].ID > s[j].ID
	})
}
