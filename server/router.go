package server

import (
	"log"
	"sync"
	"time"

	"github.com/xlab2016/space-terminal-public/internal/directory"
	"github.com/xlab2016/space-terminal-public/internal/models"
	"github.com/xlab2016/space-terminal-public/internal/protocol"
)

// Sender delivers envelopes to live sessions. Implemented by *Registry.
type Sender interface {
	Send(sessionToken string, env *protocol.Envelope) error
	Broadcast(env *protocol.Envelope, excludeToken string) error
}

// commandTable is the pending-command store the router drives.
// Implemented by *store.Commands.
type commandTable interface {
	Insert(cmd models.CommandExecution)
	Resolve(id string, approved bool, at time.Time) (models.CommandExecution, bool)
}

// groupTable is the chat-group store the router drives. Implemented by
// *store.Groups.
type groupTable interface {
	Put(group models.ChatGroup)
	Get(id string) (models.ChatGroup, bool)
	Join(groupID, memberID string) bool
}

// Router dispatches inbound envelopes by type. Handlers run on the
// receiving connection's read pump, so per-connection arrival order is
// preserved. A malformed message is answered with an Error envelope and
// never terminates the receive loop.
type Router struct {
	sender    Sender
	directory *directory.Directory
	commands  commandTable
	groups    groupTable

	mu             sync.RWMutex
	sessionClients map[string]string // session token -> logical client id
}

func NewRouter(sender Sender, dir *directory.Directory, commands commandTable, groups groupTable) *Router {
	return &Router{
		sender:         sender,
		directory:      dir,
		commands:       commands,
		groups:         groups,
		sessionClients: make(map[string]string),
	}
}

// HandleEnvelope is the dispatch entry point for one decoded envelope
// tagged with its originating session token.
func (rt *Router) HandleEnvelope(env *protocol.Envelope, token string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic handling %s envelope on session %s: %v", env.Type, token, r)
		}
	}()

	switch env.Type {
	case protocol.TypeAuthentication:
		rt.handleAuthentication(env, token)
	case protocol.TypeCommand:
		rt.handleCommand(env, token)
	case protocol.TypeCommandConfirmation:
		rt.handleCommandConfirmation(env, token)
	case protocol.TypeDesktopStreamStart,
		protocol.TypeDesktopStreamStop,
		protocol.TypeDesktopFrame,
		protocol.TypeAudioFrame:
		rt.forward(env)
	case protocol.TypeChatMessage:
		rt.handleChatMessage(env, token)
	case protocol.TypeChatGroupCreate:
		rt.handleChatGroupCreate(env, token)
	case protocol.TypeChatGroupJoin:
		rt.handleChatGroupJoin(env, token)
	case protocol.TypeHeartbeat:
		rt.handleHeartbeat(token)
	default:
		rt.sendError(token, "unknown message type: "+string(env.Type))
	}
}

// SessionClosed clears the session's client binding after its
// connection has been deregistered. Wired as the registry's close hook.
func (rt *Router) SessionClosed(token string) {
	rt.mu.Lock()
	delete(rt.sessionClients, token)
	rt.mu.Unlock()

	if clientID, ok := rt.directory.DropSession(token); ok {
		log.Printf("client %s went offline (session %s closed)", clientID, token)
	}
}

func (rt *Router) handleAuthentication(env *protocol.Envelope, token string) {
	var client models.Client
	if err := env.DecodePayload(&client); err != nil {
		rt.sendError(token, "authentication failed: invalid client payload")
		return
	}

	rt.directory.Register(client)
	rt.directory.SetOnline(client.ID, true)
	rt.directory.SetSession(client.ID, token)

	rt.mu.Lock()
	rt.sessionClients[token] = client.ID
	rt.mu.Unlock()

	resp, err := protocol.NewEnvelope(protocol.TypeAuthenticationResponse, protocol.ServerID, protocol.AuthResponse{
		Success:  true,
		ClientID: client.ID,
	})
	if err != nil {
		log.Printf("failed to build authentication response: %v", err)
		return
	}
	resp.ReceiverID = client.ID
	rt.sender.Send(token, resp)

	log.Printf("client %s (%s) authenticated on session %s", client.ID, client.Name, token)
}

func (rt *Router) handleCommand(env *protocol.Envelope, token string) {
	var cmd models.CommandExecution
	if err := env.DecodePayload(&cmd); err != nil {
		rt.sendError(token, "command failed: invalid command payload")
		return
	}

	cmd.Status = models.CommandPendingConfirmation
	if cmd.RequestedAt.IsZero() {
		cmd.RequestedAt = time.Now().UTC()
	}
	rt.commands.Insert(cmd)

	target, ok := rt.directory.Get(cmd.ClientID)
	if !ok || target.SessionID == "" {
		log.Printf("command %s dropped: target %s has no live session", cmd.ID, cmd.ClientID)
		return
	}

	req, err := protocol.NewEnvelope(protocol.TypeCommandConfirmationRequest, env.SenderID, cmd)
	if err != nil {
		log.Printf("failed to build confirmation request: %v", err)
		return
	}
	req.ReceiverID = cmd.ClientID
	rt.sender.Send(target.SessionID, req)
}

func (rt *Router) handleCommandConfirmation(env *protocol.Envelope, token string) {
	var decision protocol.CommandDecision
	if err := env.DecodePayload(&decision); err != nil {
		rt.sendError(token, "command confirmation failed: invalid decision payload")
		return
	}

	cmd, ok := rt.commands.Resolve(decision.CommandID, decision.Approved, time.Now().UTC())
	if !ok {
		return
	}

	requester, ok := rt.directory.Get(cmd.RequesterID)
	if !ok || requester.SessionID == "" {
		log.Printf("command %s response dropped: requester %s has no live session", cmd.ID, cmd.RequesterID)
		return
	}

	resp, err := protocol.NewEnvelope(protocol.TypeCommandResponse, protocol.ServerID, cmd)
	if err != nil {
		log.Printf("failed to build command response: %v", err)
		return
	}
	resp.ReceiverID = cmd.RequesterID
	rt.sender.Send(requester.SessionID, resp)
}

// forward relays stream envelopes verbatim to the receiver's session.
// No buffering, no backpressure: the relay is a dumb pipe for frames.
func (rt *Router) forward(env *protocol.Envelope) {
	if env.ReceiverID == "" {
		return
	}
	target, ok := rt.directory.Get(env.ReceiverID)
	if !ok || target.SessionID == "" {
		return
	}
	rt.sender.Send(target.SessionID, env)
}

func (rt *Router) handleChatMessage(env *protocol.Envelope, token string) {
	var msg models.ChatMessage
	if err := env.DecodePayload(&msg); err != nil {
		rt.sendError(token, "chat message failed: invalid payload")
		return
	}

	switch {
	case msg.GroupID != "":
		group, ok := rt.groups.Get(msg.GroupID)
		if !ok {
			return
		}
		for _, memberID := range group.MemberIDs {
			member, ok := rt.directory.Get(memberID)
			if !ok || member.SessionID == "" {
				continue
			}
			rt.sender.Send(member.SessionID, env)
		}

	case msg.ReceiverID != "":
		recipient, ok := rt.directory.Get(msg.ReceiverID)
		if !ok || recipient.SessionID == "" {
			return
		}
		rt.sender.Send(recipient.SessionID, env)
	}
	// Neither group nor receiver: dropped.
}

func (rt *Router) handleChatGroupCreate(env *protocol.Envelope, token string) {
	var group models.ChatGroup
	if err := env.DecodePayload(&group); err != nil {
		rt.sendError(token, "group creation failed: invalid group payload")
		return
	}

	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	rt.groups.Put(group)

	rt.sendGroupAck(protocol.TypeChatGroupCreate, env.SenderID, group.ID, token)
}

func (rt *Router) handleChatGroupJoin(env *protocol.Envelope, token string) {
	var req protocol.GroupJoinRequest
	if err := env.DecodePayload(&req); err != nil {
		rt.sendError(token, "group join failed: invalid join payload")
		return
	}

	rt.groups.Join(req.GroupID, env.SenderID)

	// The ack goes back whether or not the group existed.
	rt.sendGroupAck(protocol.TypeChatGroupJoin, env.SenderID, req.GroupID, token)
}

func (rt *Router) handleHeartbeat(token string) {
	rt.mu.RLock()
	clientID, ok := rt.sessionClients[token]
	rt.mu.RUnlock()
	if ok {
		rt.directory.SetOnline(clientID, true)
	}
}

func (rt *Router) sendGroupAck(msgType protocol.MessageType, receiverID, groupID, token string) {
	ack, err := protocol.NewEnvelope(msgType, protocol.ServerID, protocol.GroupAck{
		Success: true,
		GroupID: groupID,
	})
	if err != nil {
		log.Printf("failed to build group ack: %v", err)
		return
	}
	ack.ReceiverID = receiverID
	rt.sender.Send(token, ack)
}

func (rt *Router) sendError(token, message string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.ServerID, protocol.ErrorInfo{Error: message})
	if err != nil {
		log.Printf("failed to build error envelope: %v", err)
		return
	}
	rt.sender.Send(token, env)
}
