package collab

import (
	"sync"

	"github.com/gorilla/websocket"
)

// sendBufferSize bounds each session's outbound queue. Volatile sends
// drop rather than block when the queue is full; non-volatile sends block
// the fan-out goroutine.
const sendBufferSize = 256

// Session is the server-side state of one open socket. It
// carries the socket connection, its outbound queue, and the single room
// it has joined, if any.
type Session struct {
	ID   string
	Conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	joinedRoom string
}

// NewSession wraps conn with the caller-supplied session id and an empty
// outbound queue. The session starts in the Connected state (JoinedRoom empty).
func NewSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		ID:   id,
		Conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// JoinedRoom returns the room this session currently belongs to, or "" if
// unjoined.
func (s *Session) JoinedRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedRoom
}

func (s *Session) setJoinedRoom(roomID string) {
	s.mu.Lock()
	s.joinedRoom = roomID
	s.mu.Unlock()
}

// enqueue pushes a frame onto the session's outbound queue. When
// volatile is true, a full queue drops the frame instead of blocking;
// otherwise the caller suspends until space is available or the session
// is closed, in which case the frame is discarded: disconnect cancels
// in-flight deliveries to that peer.
func (s *Session) enqueue(payload []byte, volatile bool) {
	if volatile {
		select {
		case s.send <- payload:
		default:
		}
		return
	}
	select {
	case s.send <- payload:
	case <-s.done:
	}
}

// close marks the session dead, releasing every blocked or future enqueue.
// Safe to call more than once.
func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}
