package collab

import "encoding/json"

// Named events carried on the wire.
const (
	EventJoinRoom                = "join-room"
	EventServerBroadcast         = "server-broadcast"
	EventServerVolatileBroadcast = "server-volatile-broadcast"
	EventServerChatMessage       = "server-chat-message"
	EventLeaveRoom               = "leave-room"

	EventClientBroadcast   = "client-broadcast"
	EventClientChatMessage = "client-chat-message"
	EventChatHistory       = "chat-history"
	EventFirstInRoom       = "first-in-room"
	EventNewUser           = "new-user"
	EventRoomUserChange    = "room-user-change"
	EventJoinRoomAck       = "join-room-ack"
	EventBroadcastAck      = "broadcast-ack"
)

// inboundFrame is the wire shape of a client-to-server frame. AckID is
// present whenever the client expects an acknowledgement; frames that
// don't need one (e.g. a fire-and-forget leave-room) may omit it.
type inboundFrame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is the wire shape of a server-to-client frame.
type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ackFrame is the server's reply to an acked inbound frame: exactly one
// per AckID.
type ackFrame struct {
	Event  string `json:"event"`
	AckID  string `json:"ackId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func okAck(event, ackID string) ackFrame {
	return ackFrame{Event: event, AckID: ackID, Status: "ok"}
}

func errAck(event, ackID, reason string) ackFrame {
	return ackFrame{Event: event, AckID: ackID, Status: "error", Error: reason}
}

// joinRoomData is the payload of an inbound join-room / leave-room frame.
type joinRoomData struct {
	RoomID string `json:"roomId"`
}

// broadcastData is the payload of an inbound server-broadcast /
// server-volatile-broadcast frame. Payload is opaque to the server and
// round-tripped unchanged.
type broadcastData struct {
	RoomID   string          `json:"roomId"`
	Payload  json.RawMessage `json:"payload"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// clientBroadcastData is the outbound shape delivered to room peers,
// with the sender's session id attached as metadata.userId.
type clientBroadcastData struct {
	Payload  json.RawMessage `json:"payload"`
	Metadata json.RawMessage `json:"metadata"`
}

// chatMessageData is the payload of an inbound server-chat-message frame;
// only ID and Content are trusted from the client.
type chatMessageData struct {
	RoomID  string `json:"roomId"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

// roomUserChangeData is the outbound payload for room-user-change.
type roomUserChangeData struct {
	Members []string `json:"members"`
}

// newUserData is the outbound payload for new-user.
type newUserData struct {
	UserID string `json:"userId"`
}

// withUserID injects "userId" into an opaque metadata object, creating one
// if the sender didn't supply metadata.
func withUserID(metadata json.RawMessage, userID string) json.RawMessage {
	m := map[string]any{}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &m)
	}
	m["userId"] = userID
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{"userId":"` + userID + `"}`)
	}
	return b
}

func encodeFrame(event string, data any) []byte {
	b, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		return nil
	}
	return b
}
