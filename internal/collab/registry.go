// Package collab implements the room registry and socket gateway:
// membership tracking, presence fan-out, chat buffering, and the
// named-event frame protocol sessions speak over a single socket.
package collab

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/logger"
	"github.com/collab-docs/roomserver/internal/models"
)

// Registry is the single owning structure for all transient Room/Session
// state. It is process-wide, created once at startup and drained at
// shutdown. Writers take the exclusive lock for membership mutation and
// chat append; readers (fan-out enumeration, ListRooms) snapshot under
// the shared lock and release it before dispatching.
type Registry struct {
	log *logger.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRegistry returns an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{log: log, rooms: make(map[string]*room)}
}

// Join adds session to roomID. A session already joined to a different
// room is implicitly removed from it first. Auxiliary presence frames
// (chat-history, first-in-room, new-user, room-user-change) are enqueued
// to the affected sessions' outbound queues before the registry lock is
// released, so the joiner can never observe a client-broadcast before
// its own join bookkeeping.
func (reg *Registry) Join(s *Session, roomID string) ([]models.ChatMessage, error) {
	if roomID == "" {
		return nil, apperr.BadRequest("roomId is required")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if cur := s.JoinedRoom(); cur != "" && cur != roomID {
		reg.leaveLocked(s)
	}

	r, existed := reg.rooms[roomID]
	if !existed {
		r = newRoom(roomID)
		reg.rooms[roomID] = r
	}
	preExisting := r.memberIDs()

	r.members[s.ID] = s
	s.setJoinedRoom(roomID)
	r.touch()

	history := r.chatHistory()
	s.enqueue(encodeFrame(EventChatHistory, history), false)

	if !existed {
		s.enqueue(encodeFrame(EventFirstInRoom, struct{}{}), false)
	} else {
		for _, mid := range preExisting {
			if mid == s.ID {
				continue
			}
			if peer, ok := r.members[mid]; ok {
				peer.enqueue(encodeFrame(EventNewUser, newUserData{UserID: s.ID}), false)
			}
		}
	}

	reg.broadcastUserChangeLocked(r)
	reg.log.Debug("session %s joined room %s (members=%d)", s.ID, roomID, len(r.members))
	return history, nil
}

// Leave removes session from whatever room it is joined to, if any.
// No-op if unjoined.
func (reg *Registry) Leave(s *Session) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.leaveLocked(s)
}

// leaveLocked requires reg.mu held for writing.
func (reg *Registry) leaveLocked(s *Session) {
	roomID := s.JoinedRoom()
	if roomID == "" {
		return
	}
	s.setJoinedRoom("")

	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	delete(r.members, s.ID)
	if len(r.members) == 0 {
		delete(reg.rooms, roomID)
		reg.log.Debug("room %s emptied, removed", roomID)
		return
	}
	r.touch()
	reg.broadcastUserChangeLocked(r)
}

// broadcastUserChangeLocked emits room-user-change to every current
// member of r. reg.mu must be held (read or write).
func (reg *Registry) broadcastUserChangeLocked(r *room) {
	members := r.memberIDs()
	frame := encodeFrame(EventRoomUserChange, roomUserChangeData{Members: members})
	for _, id := range members {
		if s, ok := r.members[id]; ok {
			s.enqueue(frame, false)
		}
	}
}

// Broadcast fans payload out to every current member of sender's room
// other than sender. volatile controls whether a full recipient queue
// drops the frame or blocks the caller. A session that is not currently
// joined gets PreconditionFailed; a room that vanished mid-operation is
// a silent no-op, its membership already cleared.
func (reg *Registry) Broadcast(sender *Session, payload, metadata json.RawMessage, volatile bool) error {
	roomID := sender.JoinedRoom()
	if roomID == "" {
		return apperr.PreconditionFailed("not joined to a room")
	}

	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	var peers []*Session
	if ok {
		peers = make([]*Session, 0, len(r.members))
		for id, s := range r.members {
			if id == sender.ID {
				continue
			}
			peers = append(peers, s)
		}
	}
	reg.mu.RUnlock()
	if !ok {
		return nil
	}

	data := clientBroadcastData{Payload: payload, Metadata: withUserID(metadata, sender.ID)}
	frame := encodeFrame(EventClientBroadcast, data)
	for _, p := range peers {
		p.enqueue(frame, volatile)
	}
	return nil
}

// AppendChat appends a chat message to sender's room, trusting only the
// client-supplied id and content; sender and timestamp are
// server-assigned. The message fans out to every current member
// including the sender so the UI renders its own echo uniformly.
func (reg *Registry) AppendChat(sender *Session, msgID, content string) (models.ChatMessage, error) {
	roomID := sender.JoinedRoom()
	if roomID == "" {
		return models.ChatMessage{}, apperr.PreconditionFailed("not joined to a room")
	}

	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return models.ChatMessage{}, nil
	}

	msg := models.ChatMessage{
		ID:        msgID,
		RoomID:    roomID,
		Sender:    sender.ID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	r.appendChat(msg)
	r.touch()

	peers := make([]*Session, 0, len(r.members))
	for _, s := range r.members {
		peers = append(peers, s)
	}
	reg.mu.Unlock()

	frame := encodeFrame(EventClientChatMessage, msg)
	for _, p := range peers {
		p.enqueue(frame, false)
	}
	return msg, nil
}

// ListRooms returns a snapshot-in-time view sorted by userCount DESC,
// lastActive DESC, id ASC, so polling clients see deterministic output.
func (reg *Registry) ListRooms() []models.RoomSummary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]models.RoomSummary, 0, len(reg.rooms))
	for id, r := range reg.rooms {
		out = append(out, models.RoomSummary{
			ID:         id,
			Users:      len(r.members),
			LastActive: r.lastActive.UnixMilli(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Users != out[j].Users {
			return out[i].Users > out[j].Users
		}
		if out[i].LastActive != out[j].LastActive {
			return out[i].LastActive > out[j].LastActive
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EvictRoom forcibly removes every member of roomID from it, emitting
// room-user-change([]) to them and moving each back to Unjoined (their
// sockets stay open), then
// removes the room entirely. Used by the HTTP surface's
// DELETE /api/rooms/{roomId}. Idempotent: evicting an unknown room is a
// no-op.
func (reg *Registry) EvictRoom(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	frame := encodeFrame(EventRoomUserChange, roomUserChangeData{Members: []string{}})
	for _, s := range r.members {
		s.setJoinedRoom("")
		s.enqueue(frame, false)
	}
	delete(reg.rooms, roomID)
	reg.log.Info("room %s evicted", roomID)
}

// Shutdown evicts every member of every room, draining the registry.
// Called once during process shutdown.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	roomIDs := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		roomIDs = append(roomIDs, id)
	}
	reg.mu.Unlock()

	for _, id := range roomIDs {
		reg.EvictRoom(id)
	}
}
