package collab

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/collab-docs/roomserver/internal/apperr"
	"github.com/collab-docs/roomserver/internal/logger"
	"github.com/collab-docs/roomserver/internal/models"
)

func newTestRegistry() *Registry {
	return NewRegistry(logger.New("test"))
}

func newTestSession(id string) *Session {
	return NewSession(id, nil)
}

// nextFrame reads one outbound frame off s's queue, failing the test if
// none arrives within a second.
func nextFrame(t *testing.T, s *Session) outboundFrame {
	t.Helper()
	select {
	case b := <-s.send:
		var f outboundFrame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return outboundFrame{}
	}
}

func TestRegistry_Join_FirstInRoomThenRoomUserChange(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")

	if _, err := reg.Join(alice, "R1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	history := nextFrame(t, alice)
	if history.Event != EventChatHistory {
		t.Fatalf("first frame = %s, want %s", history.Event, EventChatHistory)
	}

	first := nextFrame(t, alice)
	if first.Event != EventFirstInRoom {
		t.Fatalf("second frame = %s, want %s", first.Event, EventFirstInRoom)
	}

	change := nextFrame(t, alice)
	if change.Event != EventRoomUserChange {
		t.Fatalf("third frame = %s, want %s", change.Event, EventRoomUserChange)
	}
}

func TestRegistry_Join_SecondMemberSignalsNewUser(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")
	bob := newTestSession("bob")

	if _, err := reg.Join(alice, "R1"); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	drainAll(alice)

	if _, err := reg.Join(bob, "R1"); err != nil {
		t.Fatalf("bob Join: %v", err)
	}

	// Alice (pre-existing member) receives new-user(bob.id).
	aliceFrame := nextFrame(t, alice)
	if aliceFrame.Event != EventNewUser {
		t.Fatalf("alice frame = %s, want %s", aliceFrame.Event, EventNewUser)
	}
	var nu newUserData
	remarshal(t, aliceFrame.Data, &nu)
	if nu.UserID != "bob" {
		t.Errorf("new-user userId = %q, want bob", nu.UserID)
	}

	// Both then observe room-user-change([alice, bob]).
	aliceChange := nextFrame(t, alice)
	if aliceChange.Event != EventRoomUserChange {
		t.Fatalf("alice next event = %s, want %s", aliceChange.Event, EventRoomUserChange)
	}

	// Bob got chat-history then room-user-change (no first-in-room, no new-user for himself).
	bobHistory := nextFrame(t, bob)
	if bobHistory.Event != EventChatHistory {
		t.Fatalf("bob first event = %s, want %s", bobHistory.Event, EventChatHistory)
	}
	bobChange := nextFrame(t, bob)
	if bobChange.Event != EventRoomUserChange {
		t.Fatalf("bob second event = %s, want %s", bobChange.Event, EventRoomUserChange)
	}
	var rc roomUserChangeData
	remarshal(t, bobChange.Data, &rc)
	if len(rc.Members) != 2 {
		t.Errorf("members = %v, want 2 entries", rc.Members)
	}
}

func TestRegistry_Broadcast_ExcludesSender(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")
	bob := newTestSession("bob")
	reg.Join(alice, "R1")
	drainAll(alice)
	reg.Join(bob, "R1")
	drainAll(alice, bob)

	payload := json.RawMessage(`{"x":1}`)
	if err := reg.Broadcast(alice, payload, nil, false); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	bobFrame := nextFrame(t, bob)
	if bobFrame.Event != EventClientBroadcast {
		t.Fatalf("bob frame = %s, want %s", bobFrame.Event, EventClientBroadcast)
	}
	var cb clientBroadcastData
	remarshal(t, bobFrame.Data, &cb)
	var meta map[string]any
	if err := json.Unmarshal(cb.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["userId"] != "alice" {
		t.Errorf("metadata.userId = %v, want alice", meta["userId"])
	}

	select {
	case <-alice.send:
		t.Fatal("sender must not receive its own broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_Broadcast_RequiresJoin(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")

	err := reg.Broadcast(alice, json.RawMessage(`{}`), nil, false)
	if !apperr.Is(err, apperr.KindPreconditionFailed) {
		t.Fatalf("err = %v, want PreconditionFailed", err)
	}
}

func TestRegistry_AppendChat_EchoesToSenderAndOrdered(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")
	carol := newTestSession("carol")
	reg.Join(alice, "R1")
	drainAll(alice)

	if _, err := reg.AppendChat(alice, "m1", "hi"); err != nil {
		t.Fatalf("AppendChat m1: %v", err)
	}
	if _, err := reg.AppendChat(alice, "m2", "world"); err != nil {
		t.Fatalf("AppendChat m2: %v", err)
	}

	// Alice (sender) sees both messages echoed back, in order.
	first := nextFrame(t, alice)
	var m1 models.ChatMessage
	remarshal(t, first.Data, &m1)
	if m1.Content != "hi" {
		t.Errorf("first echoed message content = %q, want hi", m1.Content)
	}
	second := nextFrame(t, alice)
	var m2 models.ChatMessage
	remarshal(t, second.Data, &m2)
	if m2.Content != "world" {
		t.Errorf("second echoed message content = %q, want world", m2.Content)
	}

	history, err := reg.Join(carol, "R1")
	if err != nil {
		t.Fatalf("carol Join: %v", err)
	}
	if len(history) != 2 || history[0].Content != "hi" || history[1].Content != "world" {
		t.Fatalf("chat history = %+v, want [hi, world]", history)
	}
	for _, m := range history {
		if m.Sender != "alice" {
			t.Errorf("sender = %q, want alice", m.Sender)
		}
	}
}

func TestRegistry_Leave_EmptiesRoomAndClearsChat(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")
	reg.Join(alice, "R1")
	reg.AppendChat(alice, "m1", "hi")

	reg.Leave(alice)
	if alice.JoinedRoom() != "" {
		t.Errorf("alice still joined after Leave")
	}

	bob := newTestSession("bob")
	history, err := reg.Join(bob, "R1")
	if err != nil {
		t.Fatalf("bob Join: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %v, want empty (room was emptied)", history)
	}
	drainAll(bob)

	rooms := reg.ListRooms()
	if len(rooms) != 1 || rooms[0].Users != 1 {
		t.Errorf("ListRooms = %+v, want exactly one room with 1 user", rooms)
	}
}

func TestRegistry_Join_ImplicitLeaveOnRejoin(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")
	reg.Join(alice, "R1")
	drainAll(alice)

	if _, err := reg.Join(alice, "R2"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	rooms := reg.ListRooms()
	if len(rooms) != 1 || rooms[0].ID != "R2" {
		t.Fatalf("expected only R2 to remain, got %+v", rooms)
	}
	if alice.JoinedRoom() != "R2" {
		t.Errorf("JoinedRoom = %q, want R2", alice.JoinedRoom())
	}
}

func TestRegistry_EvictRoom_MovesMembersToUnjoined(t *testing.T) {
	reg := newTestRegistry()
	alice := newTestSession("alice")
	reg.Join(alice, "R1")
	drainAll(alice)

	reg.EvictRoom("R1")

	frame := nextFrame(t, alice)
	if frame.Event != EventRoomUserChange {
		t.Fatalf("event = %s, want %s", frame.Event, EventRoomUserChange)
	}
	var rc roomUserChangeData
	remarshal(t, frame.Data, &rc)
	if len(rc.Members) != 0 {
		t.Errorf("members = %v, want empty", rc.Members)
	}
	if alice.JoinedRoom() != "" {
		t.Errorf("alice.JoinedRoom() = %q, want unjoined", alice.JoinedRoom())
	}
	if len(reg.ListRooms()) != 0 {
		t.Errorf("room should be gone after eviction")
	}
}

func TestRegistry_ConcurrentJoinLeave_LeavesNoResidue(t *testing.T) {
	reg := newTestRegistry()
	rooms := []string{"R1", "R2", "R3"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		s := newTestSession(fmt.Sprintf("s%d", i))

		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-s.send:
				case <-stop:
					return
				}
			}
		}()

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(stop)
			for j := 0; j < 50; j++ {
				if _, err := reg.Join(s, rooms[(i+j)%len(rooms)]); err != nil {
					t.Errorf("Join: %v", err)
					return
				}
				reg.AppendChat(s, "m", "hi")
			}
			reg.Leave(s)
		}(i)
	}
	wg.Wait()

	if n := len(reg.ListRooms()); n != 0 {
		t.Errorf("rooms remaining after every session left = %d, want 0", n)
	}
}

func TestRoom_ChatBufferDropsOldestOnOverflow(t *testing.T) {
	r := newRoom("R1")
	for i := 0; i < maxChatHistory+5; i++ {
		r.appendChat(models.ChatMessage{ID: "m", Timestamp: int64(i)})
	}
	if len(r.chat) != maxChatHistory {
		t.Fatalf("len(chat) = %d, want %d", len(r.chat), maxChatHistory)
	}
	if r.chat[0].Timestamp != 5 {
		t.Errorf("oldest surviving timestamp = %d, want 5", r.chat[0].Timestamp)
	}
}

func TestSession_VolatileEnqueueDropsWhenFull(t *testing.T) {
	s := newTestSession("alice")
	for i := 0; i < sendBufferSize; i++ {
		s.enqueue([]byte("frame"), true)
	}

	done := make(chan struct{})
	go func() {
		s.enqueue([]byte("overflow"), true)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("volatile enqueue blocked on a full queue")
	}
	if len(s.send) != sendBufferSize {
		t.Errorf("queue length = %d, want %d (overflow dropped)", len(s.send), sendBufferSize)
	}
}

func TestSession_NonVolatileEnqueueReleasedByClose(t *testing.T) {
	s := newTestSession("alice")
	for i := 0; i < sendBufferSize; i++ {
		s.enqueue([]byte("frame"), false)
	}

	done := make(chan struct{})
	go func() {
		s.enqueue([]byte("blocked"), false)
		close(done)
	}()
	s.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("non-volatile enqueue not released by session close")
	}
}

func drainAll(sessions ...*Session) {
	for _, s := range sessions {
		for {
			select {
			case <-s.send:
			default:
				goto next
			}
		}
	next:
	}
}

func remarshal(t *testing.T, data any, out any) {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
