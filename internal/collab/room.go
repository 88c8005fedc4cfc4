package collab

import (
	"time"

	"github.com/collab-docs/roomserver/internal/models"
)

// maxChatHistory is the per-room chat buffer cap: FIFO eviction
// on overflow, oldest entry (smallest timestamp) dropped first.
const maxChatHistory = 1000

// room is the registry's transient per-room state. It is only
// ever touched while the Registry's lock is held; it has no lock of its
// own.
type room struct {
	id         string
	members    map[string]*Session
	chat       []models.ChatMessage
	lastActive time.Time
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: make(map[string]*Session),
	}
}

// memberIDs returns a snapshot slice of current member session ids.
func (r *room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// appendChat appends msg to the room's bounded history, dropping the
// oldest entry on overflow.
func (r *room) appendChat(msg models.ChatMessage) {
	r.chat = append(r.chat, msg)
	if len(r.chat) > maxChatHistory {
		r.chat = r.chat[len(r.chat)-maxChatHistory:]
	}
}

// chatHistory returns a copy of the room's current chat buffer, safe to
// hand to a caller after the registry lock is released.
func (r *room) chatHistory() []models.ChatMessage {
	out := make([]models.ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

func (r *room) touch() {
	r.lastActive = time.Now()
}
