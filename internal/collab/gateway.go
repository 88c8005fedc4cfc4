package collab

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Gateway frames the named-event protocol over one
// bidirectional socket per session: upgrade, read/write pumps, ack
// correlation, and dispatch into the Registry.
type Gateway struct {
	registry *Registry
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewGateway returns a Gateway dispatching into registry.
func NewGateway(registry *Registry, log *logger.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request and runs the session's read/write
// pumps until disconnect. Disconnection always runs a Leave, but only
// after the session is marked closed; the write pump closes the
// connection as soon as it observes that, so the connection may already
// be closed when the Leave runs.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed: %v", err)
		return
	}

	session := NewSession(uuid.NewString(), conn)
	g.log.Debug("session %s connected", session.ID)

	go g.writePump(session)
	g.readPump(session)
}

func (g *Gateway) readPump(s *Session) {
	defer func() {
		// Mark the session dead first so no fan-out can block on its
		// queue, then run the Leave. The conn itself is closed by
		// writePump once done is observed.
		s.close()
		g.registry.Leave(s)
		g.log.Debug("session %s disconnected", s.ID)
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.log.Warn("session %s read error: %v", s.ID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		g.dispatch(s, frame)
	}
}

func (g *Gateway) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-s.done:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame to the matching Registry operation
// and replies with an ack when the frame carried an AckID.
func (g *Gateway) dispatch(s *Session, frame inboundFrame) {
	switch frame.Event {
	case EventJoinRoom:
		var data joinRoomData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			g.ack(s, EventJoinRoomAck, frame.AckID, apperr.BadRequest("malformed join-room frame"))
			return
		}
		_, err := g.registry.Join(s, data.RoomID)
		g.ack(s, EventJoinRoomAck, frame.AckID, err)

	case EventLeaveRoom:
		g.registry.Leave(s)
		g.ack(s, "", frame.AckID, nil)

	case EventServerBroadcast, EventServerVolatileBroadcast:
		var data broadcastData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			g.ack(s, EventBroadcastAck, frame.AckID, apperr.BadRequest("malformed broadcast frame"))
			return
		}
		volatile := frame.Event == EventServerVolatileBroadcast
		err := g.registry.Broadcast(s, data.Payload, data.Metadata, volatile)
		g.ack(s, EventBroadcastAck, frame.AckID, err)

	case EventServerChatMessage:
		var data chatMessageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			g.ack(s, "", frame.AckID, apperr.BadRequest("malformed chat frame"))
			return
		}
		_, err := g.registry.AppendChat(s, data.ID, data.Content)
		g.ack(s, "", frame.AckID, err)

	default:
		g.ack(s, "", frame.AckID, apperr.BadRequest("unknown event "+frame.Event))
	}
}

// ack delivers the callback-style ack for frame.AckID, plus an optional
// event mirror for transports that can't use callback acks. Both happen
// at most once and only when AckID is non-empty; the client is
// responsible for its own ack timeout.
func (g *Gateway) ack(s *Session, mirrorEvent, ackID string, err error) {
	if ackID == "" {
		return
	}
	ack := okAck("ack", ackID)
	if err != nil {
		ack = errAck("ack", ackID, err.Error())
	}
	if b, mErr := json.Marshal(ack); mErr == nil {
		s.enqueue(b, false)
	}

	if mirrorEvent != "" {
		mirror := encodeFrame(mirrorEvent, map[string]any{
			"messageId": ackID,
			"status":    ack.Status,
			"error":     ack.Error,
		})
		s.enqueue(mirror, false)
	}
}
