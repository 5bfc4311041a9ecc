package server

import (
	"sync"
	"testing"
	"time"

	"github.com/xlab2016/space-terminal-public/internal/directory"
	"github.com/xlab2016/space-terminal-public/internal/models"
	"github.com/xlab2016/space-terminal-public/internal/protocol"
	"github.com/xlab2016/space-terminal-public/internal/store"
)

type sentEnvelope struct {
	token string
	env   *protocol.Envelope
}

// fakeSender captures outbound envelopes instead of writing to sockets.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentEnvelope
}

func (f *fakeSender) Send(token string, env *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEnvelope{token: token, env: env})
	return nil
}

func (f *fakeSender) Broadcast(env *protocol.Envelope, excludeToken string) error {
	return nil
}

func (f *fakeSender) sentTo(token string) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, s := range f.sent {
		if s.token == token {
			out = append(out, s.env)
		}
	}
	return out
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestRouter(t *testing.T) (*Router, *fakeSender) {
	t.Helper()
	dir, err := directory.New(nil)
	if err != nil {
		t.Fatalf("directory.New failed: %v", err)
	}
	sender := &fakeSender{}
	return NewRouter(sender, dir, store.NewCommands(), store.NewGroups()), sender
}

func mustEnvelope(t *testing.T, msgType protocol.MessageType, senderID string, payload interface{}) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, senderID, payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func authenticate(t *testing.T, rt *Router, clientID, token string) {
	t.Helper()
	env := mustEnvelope(t, protocol.TypeAuthentication, clientID, models.Client{
		ID:   clientID,
		Name: clientID,
		Type: models.ClientTypeWindows,
	})
	rt.HandleEnvelope(env, token)
}

func TestAuthenticationRegistersAndResponds(t *testing.T) {
	rt, sender := newTestRouter(t)

	authenticate(t, rt, "alice", "token-a")

	got, ok := rt.directory.Get("alice")
	if !ok {
		t.Fatal("expected alice to be registered")
	}
	if !got.IsOnline || got.SessionID != "token-a" {
		t.Errorf("unexpected directory state: %+v", got)
	}

	replies := sender.sentTo("token-a")
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].Type != protocol.TypeAuthenticationResponse {
		t.Fatalf("expected AuthenticationResponse, got %s", replies[0].Type)
	}
	var resp protocol.AuthResponse
	if err := replies[0].DecodePayload(&resp); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if !resp.Success || resp.ClientID != "alice" {
		t.Errorf("unexpected response payload: %+v", resp)
	}
}

func TestAuthenticationRebindOverwritesSession(t *testing.T) {
	rt, _ := newTestRouter(t)

	authenticate(t, rt, "alice", "token-1")
	authenticate(t, rt, "alice", "token-2")

	got, _ := rt.directory.Get("alice")
	if got.SessionID != "token-2" {
		t.Errorf("expected last-writer-wins session, got %q", got.SessionID)
	}
}

func TestAuthenticationInvalidPayloadGetsError(t *testing.T) {
	rt, sender := newTestRouter(t)

	env := &protocol.Envelope{
		ID:        "env-1",
		Type:      protocol.TypeAuthentication,
		SenderID:  "alice",
		Payload:   "not json",
		Timestamp: time.Now().UTC(),
	}
	rt.HandleEnvelope(env, "token-a")

	replies := sender.sentTo("token-a")
	if len(replies) != 1 || replies[0].Type != protocol.TypeError {
		t.Fatalf("expected a single Error reply, got %+v", replies)
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	rt, _ := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")

	before, _ := rt.directory.Get("alice")
	time.Sleep(10 * time.Millisecond)

	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeHeartbeat, "alice", struct{}{}), "token-a")

	after, _ := rt.directory.Get("alice")
	if !after.IsOnline {
		t.Error("expected client to stay online")
	}
	if !after.LastSeen.After(before.LastSeen) {
		t.Errorf("lastSeen not refreshed: before %v after %v", before.LastSeen, after.LastSeen)
	}
}

func TestHeartbeatFromUnauthenticatedSessionIsSilent(t *testing.T) {
	rt, sender := newTestRouter(t)

	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeHeartbeat, "ghost", struct{}{}), "token-x")

	if sender.count() != 0 {
		t.Errorf("expected no replies, got %d", sender.count())
	}
}

func TestCommandDeliversExactlyOneConfirmationRequest(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")
	authenticate(t, rt, "carol", "token-c")
	base := sender.count()

	cmd := models.CommandExecution{
		ID:          "c1",
		Command:     "uptime",
		ClientID:    "bob",
		RequesterID: "alice",
	}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommand, "alice", cmd), "token-a")

	if sender.count() != base+1 {
		t.Fatalf("expected exactly one send, got %d", sender.count()-base)
	}
	requests := sender.sentTo("token-b")[1:] // skip auth response
	if len(requests) != 1 || requests[0].Type != protocol.TypeCommandConfirmationRequest {
		t.Fatalf("expected one CommandConfirmationRequest to bob, got %+v", requests)
	}

	var forwarded models.CommandExecution
	if err := requests[0].DecodePayload(&forwarded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if forwarded.ID != "c1" || forwarded.Status != models.CommandPendingConfirmation {
		t.Errorf("unexpected forwarded command: %+v", forwarded)
	}
	if len(sender.sentTo("token-c")) != 1 { // only carol's auth response
		t.Error("no other session may receive the confirmation request")
	}
}

func TestCommandToOfflineTargetIsDropped(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	base := sender.count()

	cmd := models.CommandExecution{ID: "c1", Command: "uptime", ClientID: "bob", RequesterID: "alice"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommand, "alice", cmd), "token-a")

	if sender.count() != base {
		t.Errorf("expected silent drop, got %d sends", sender.count()-base)
	}
}

func TestCommandConfirmationApproved(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")

	cmd := models.CommandExecution{ID: "c1", Command: "uptime", ClientID: "bob", RequesterID: "alice"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommand, "alice", cmd), "token-a")
	base := sender.count()

	decision := protocol.CommandDecision{CommandID: "c1", Approved: true}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommandConfirmation, "bob", decision), "token-b")

	if sender.count() != base+1 {
		t.Fatalf("expected exactly one send, got %d", sender.count()-base)
	}
	responses := sender.sentTo("token-a")[1:] // skip auth response
	if len(responses) != 1 || responses[0].Type != protocol.TypeCommandResponse {
		t.Fatalf("expected one CommandResponse to alice, got %+v", responses)
	}

	var resolved models.CommandExecution
	if err := responses[0].DecodePayload(&resolved); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if resolved.Status != models.CommandConfirmed {
		t.Errorf("expected Confirmed, got %s", resolved.Status)
	}
	if resolved.ConfirmedAt == nil {
		t.Error("expected confirmedAt to be stamped")
	}
}

func TestCommandConfirmationRejected(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")

	cmd := models.CommandExecution{ID: "c1", Command: "rm -rf /tmp/scratch", ClientID: "bob", RequesterID: "alice"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommand, "alice", cmd), "token-a")
	base := sender.count()

	decision := protocol.CommandDecision{CommandID: "c1", Approved: false}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommandConfirmation, "bob", decision), "token-b")

	if sender.count() != base+1 {
		t.Fatalf("expected exactly one send, got %d", sender.count()-base)
	}
	responses := sender.sentTo("token-a")[1:]
	var resolved models.CommandExecution
	if err := responses[0].DecodePayload(&resolved); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if resolved.Status != models.CommandRejected {
		t.Errorf("expected Rejected, got %s", resolved.Status)
	}
}

func TestCommandConfirmationUnknownIDIsSilent(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "bob", "token-b")
	base := sender.count()

	decision := protocol.CommandDecision{CommandID: "no-such-command", Approved: true}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommandConfirmation, "bob", decision), "token-b")

	if sender.count() != base {
		t.Errorf("expected no envelope for unknown command id, got %d sends", sender.count()-base)
	}
}

func TestStreamFramesForwardVerbatim(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")
	base := sender.count()

	frame := mustEnvelope(t, protocol.TypeDesktopFrame, "alice", "ZnJhbWU=")
	frame.ReceiverID = "bob"
	rt.HandleEnvelope(frame, "token-a")

	forwarded := sender.sentTo("token-b")[1:]
	if len(forwarded) != 1 {
		t.Fatalf("expected one forwarded frame, got %d", len(forwarded))
	}
	if forwarded[0] != frame {
		t.Error("stream envelopes must be forwarded verbatim, not rebuilt")
	}

	// No receiver: dropped.
	orphan := mustEnvelope(t, protocol.TypeAudioFrame, "alice", "ZnJhbWU=")
	rt.HandleEnvelope(orphan, "token-a")
	if sender.count() != base+1 {
		t.Error("expected receiverless frame to be dropped")
	}
}

func TestDirectChatMessageForwarded(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")

	chat := models.ChatMessage{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", Timestamp: time.Now().UTC()}
	env := mustEnvelope(t, protocol.TypeChatMessage, "alice", chat)
	env.ReceiverID = "bob"
	rt.HandleEnvelope(env, "token-a")

	forwarded := sender.sentTo("token-b")[1:]
	if len(forwarded) != 1 || forwarded[0] != env {
		t.Fatalf("expected the same envelope forwarded to bob, got %+v", forwarded)
	}
}

func TestGroupChatFanOutSkipsOfflineMembers(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")
	// carol is known but has no live session.
	rt.directory.Register(models.Client{ID: "carol", Name: "carol"})

	group := models.ChatGroup{ID: "g1", Name: "ops", CreatorID: "alice", MemberIDs: []string{"alice", "bob", "carol"}}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatGroupCreate, "alice", group), "token-a")
	base := sender.count()

	chat := models.ChatMessage{ID: "m1", SenderID: "alice", GroupID: "g1", Content: "hello all", Timestamp: time.Now().UTC()}
	env := mustEnvelope(t, protocol.TypeChatMessage, "alice", chat)
	env.GroupID = "g1"
	rt.HandleEnvelope(env, "token-a")

	if sender.count() != base+2 {
		t.Fatalf("expected exactly 2 deliveries (alice, bob), got %d", sender.count()-base)
	}
	for _, token := range []string{"token-a", "token-b"} {
		deliveries := 0
		for _, sent := range sender.sentTo(token) {
			if sent == env {
				deliveries++
			}
		}
		if deliveries != 1 {
			t.Errorf("expected exactly one copy on %s, got %d", token, deliveries)
		}
	}
}

func TestChatMessageWithoutRouteIsDropped(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	base := sender.count()

	chat := models.ChatMessage{ID: "m1", SenderID: "alice", Content: "to nobody"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatMessage, "alice", chat), "token-a")

	if sender.count() != base {
		t.Errorf("expected drop, got %d sends", sender.count()-base)
	}
}

func TestGroupCreateAcksOriginatingSession(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	base := len(sender.sentTo("token-a"))

	group := models.ChatGroup{ID: "g1", Name: "ops", CreatorID: "alice", MemberIDs: []string{"alice"}}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatGroupCreate, "alice", group), "token-a")

	acks := sender.sentTo("token-a")[base:]
	if len(acks) != 1 || acks[0].Type != protocol.TypeChatGroupCreate {
		t.Fatalf("expected one ChatGroupCreate ack, got %+v", acks)
	}
	var ack protocol.GroupAck
	if err := acks[0].DecodePayload(&ack); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if !ack.Success || ack.GroupID != "g1" {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestGroupJoinIdempotent(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")

	group := models.ChatGroup{ID: "g1", Name: "ops", CreatorID: "alice", MemberIDs: []string{"alice"}}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatGroupCreate, "alice", group), "token-a")

	join := protocol.GroupJoinRequest{GroupID: "g1"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatGroupJoin, "bob", join), "token-b")
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatGroupJoin, "bob", join), "token-b")

	got, _ := rt.groups.Get("g1")
	if len(got.MemberIDs) != 2 {
		t.Errorf("expected member set {alice, bob}, got %v", got.MemberIDs)
	}

	acks := sender.sentTo("token-b")[1:] // skip auth response
	if len(acks) != 2 {
		t.Fatalf("expected an ack per join attempt, got %d", len(acks))
	}
}

func TestGroupJoinMissingGroupStillAcks(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "bob", "token-b")
	base := len(sender.sentTo("token-b"))

	join := protocol.GroupJoinRequest{GroupID: "no-such-group"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeChatGroupJoin, "bob", join), "token-b")

	acks := sender.sentTo("token-b")[base:]
	if len(acks) != 1 || acks[0].Type != protocol.TypeChatGroupJoin {
		t.Fatalf("expected ack regardless of group existence, got %+v", acks)
	}
	var ack protocol.GroupAck
	if err := acks[0].DecodePayload(&ack); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if !ack.Success || ack.GroupID != "no-such-group" {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestUnknownTypeGetsExactlyOneError(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	base := len(sender.sentTo("token-a"))

	env := mustEnvelope(t, protocol.TypeChatGroupLeave, "alice", struct{}{})
	rt.HandleEnvelope(env, "token-a")

	replies := sender.sentTo("token-a")[base:]
	if len(replies) != 1 || replies[0].Type != protocol.TypeError {
		t.Fatalf("expected exactly one Error reply, got %+v", replies)
	}
}

func TestSessionClosedClearsBinding(t *testing.T) {
	rt, _ := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")

	rt.SessionClosed("token-a")

	got, _ := rt.directory.Get("alice")
	if got.IsOnline || got.SessionID != "" {
		t.Errorf("expected offline with no session, got %+v", got)
	}

	// The heartbeat binding must be gone too.
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeHeartbeat, "alice", struct{}{}), "token-a")
	after, _ := rt.directory.Get("alice")
	if after.IsOnline {
		t.Error("heartbeat on a closed session must not resurrect the client")
	}
}

func TestCommandRoundTripScenario(t *testing.T) {
	rt, sender := newTestRouter(t)
	authenticate(t, rt, "alice", "token-a")
	authenticate(t, rt, "bob", "token-b")

	cmd := models.CommandExecution{ID: "c1", Command: "whoami", ClientID: "bob", RequesterID: "alice"}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommand, "alice", cmd), "token-a")

	requests := sender.sentTo("token-b")[1:]
	if len(requests) != 1 || requests[0].Type != protocol.TypeCommandConfirmationRequest {
		t.Fatalf("bob did not receive the confirmation request: %+v", requests)
	}
	var pending models.CommandExecution
	if err := requests[0].DecodePayload(&pending); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if pending.ID != "c1" {
		t.Fatalf("expected command c1, got %s", pending.ID)
	}

	decision := protocol.CommandDecision{CommandID: pending.ID, Approved: true}
	rt.HandleEnvelope(mustEnvelope(t, protocol.TypeCommandConfirmation, "bob", decision), "token-b")

	responses := sender.sentTo("token-a")[1:]
	if len(responses) != 1 || responses[0].Type != protocol.TypeCommandResponse {
		t.Fatalf("alice did not receive exactly one CommandResponse: %+v", responses)
	}
	var resolved models.CommandExecution
	if err := responses[0].DecodePayload(&resolved); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if resolved.Status != models.CommandConfirmed {
		t.Errorf("expected Confirmed, got %s", resolved.Status)
	}
}
