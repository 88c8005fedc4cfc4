// Package models holds the data types shared across the storage, registry,
// gateway and HTTP layers: the durable Snapshot/RoomSettings/Document rows
// and the wire-level request/response shapes the HTTP surface binds to.
package models

// Snapshot is a persisted record of a room's drawing state plus metadata.
// Listing views omit Data; GetSnapshot returns the full row.
type Snapshot struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	CreatedBy   string `json:"createdBy"`
	CreatedAt   int64  `json:"createdAt"`
	Data        string `json:"data,omitempty"`
}

// AutosaveCreatedBy marks the singleton autosave snapshot per room.
const AutosaveCreatedBy = "__autosave__"

// IsAutosave reports whether s is the room's autosave snapshot.
func (s Snapshot) IsAutosave() bool { return s.CreatedBy == AutosaveCreatedBy }

// RoomSettings is a durable per-room configuration row.
type RoomSettings struct {
	RoomID           string `json:"roomId"`
	MaxSnapshots     int    `json:"maxSnapshots"`
	AutoSaveInterval int    `json:"autoSaveInterval"`
}

const (
	DefaultMaxSnapshots     = 10
	MinMaxSnapshots         = 1
	DefaultAutoSaveInterval = 300
	MinAutoSaveInterval     = 60
)

// DefaultRoomSettings returns the settings a room has before any explicit
// UpdateRoomSettings call.
func DefaultRoomSettings(roomID string) RoomSettings {
	return RoomSettings{
		RoomID:           roomID,
		MaxSnapshots:     DefaultMaxSnapshots,
		AutoSaveInterval: DefaultAutoSaveInterval,
	}
}

// ClampSettings replaces out-of-range values with their defaults.
func ClampSettings(maxSnapshots, autoSaveInterval int) (int, int) {
	if maxSnapshots < MinMaxSnapshots {
		maxSnapshots = DefaultMaxSnapshots
	}
	if autoSaveInterval < MinAutoSaveInterval {
		autoSaveInterval = DefaultAutoSaveInterval
	}
	return maxSnapshots, autoSaveInterval
}

// Document is a legacy anonymous-share row; persistence shares its
// backend surface.
type Document struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// ChatMessage is a value type exchanged over the socket gateway and
// buffered per room.
type ChatMessage struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// RoomSummary is the snapshot-in-time view returned by ListRooms and
// GET /api/rooms.
type RoomSummary struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	LastActive int64  `json:"lastActive"`
}

// Requests / responses for the HTTP surface.

// CreateSnapshotRequest is the body of POST /api/rooms/{roomId}/snapshots
// and PUT /api/rooms/{roomId}/autosave.
type CreateSnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	Data        string `json:"data" binding:"required"`
}

// UpdateSnapshotMetadataRequest is the body of PUT /api/snapshots/{id}.
type UpdateSnapshotMetadataRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
}

// UpdateRoomSettingsRequest is the body of PUT /api/rooms/{roomId}/settings.
type UpdateRoomSettingsRequest struct {
	MaxSnapshots     int `json:"maxSnapshots"`
	AutoSaveInterval int `json:"autoSaveInterval"`
}

// DeleteRoomRequest is the body of DELETE /api/rooms/{roomId}.
type DeleteRoomRequest struct {
	Confirmation string `json:"confirmation"`
}

// DeleteRoomConfirmation is the only string DeleteRoomRequest.Confirmation
// is accepted as.
const DeleteRoomConfirmation = "confirm"
