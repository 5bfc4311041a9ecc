// Package client is the relay client library used by operator
// consoles: it dials the relay, authenticates a self-asserted identity,
// keeps the session alive with heartbeats, and exposes typed send
// helpers and callbacks for everything the relay routes.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xlab2016/space-terminal-public/internal/crypto"
	"github.com/xlab2016/space-terminal-public/internal/models"
	"github.com/xlab2016/space-terminal-public/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 30 * time.Second
	heartbeatInterval = 30 * time.Second
)

// ErrClosed is returned by send operations after Close.
var ErrClosed = errors.New("client: connection closed")

// Identity is the self-asserted identity a console presents at
// authentication. The private key never leaves the console; only the
// public key travels in the Client record.
type Identity struct {
	ID         string
	Name       string
	Type       models.ClientType
	PublicKey  string
	PrivateKey string
}

// NewIdentity generates a fresh identity with an RSA key pair.
func NewIdentity(name string, clientType models.ClientType) (*Identity, error) {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity keys: %w", err)
	}
	return &Identity{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       clientType,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// Handlers holds the callbacks invoked from the read pump. Nil
// callbacks are skipped.
type Handlers struct {
	OnAuthenticated   func(resp protocol.AuthResponse)
	OnCommandRequest  func(cmd models.CommandExecution)
	OnCommandResponse func(cmd models.CommandExecution)
	OnChat            func(msg models.ChatMessage)
	OnGroupAck        func(msgType protocol.MessageType, ack protocol.GroupAck)
	OnStream          func(env *protocol.Envelope)
	OnError           func(message string)
}

// Client is one live connection to a relay.
type Client struct {
	identity *Identity
	conn     *websocket.Conn
	handlers Handlers

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at url (ws://host/ws), starts the pumps
// and authenticates. It returns once the Authentication envelope has
// been queued; the AuthenticationResponse arrives via OnAuthenticated.
func Dial(ctx context.Context, url string, identity *Identity, handlers Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		identity: identity,
		conn:     conn,
		handlers: handlers,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	if err := c.authenticate(); err != nil {
		c.Close()
		return nil, err
	}

	go c.heartbeatLoop()

	return c, nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Identity returns the identity this client authenticated as.
func (c *Client) Identity() *Identity {
	return c.identity
}

func (c *Client) authenticate() error {
	return c.sendPayload(protocol.TypeAuthentication, "", "", models.Client{
		ID:        c.identity.ID,
		Name:      c.identity.Name,
		PublicKey: c.identity.PublicKey,
		Type:      c.identity.Type,
	})
}

// SendCommand asks the relay to run a command on the target console,
// pending the target's confirmation. It returns the command id to
// correlate the eventual CommandResponse.
func (c *Client) SendCommand(targetID, command string) (string, error) {
	cmd := models.CommandExecution{
		ID:          uuid.NewString(),
		Command:     command,
		ClientID:    targetID,
		RequesterID: c.identity.ID,
		Status:      models.CommandPendingConfirmation,
		RequestedAt: time.Now().UTC(),
	}
	if err := c.sendPayload(protocol.TypeCommand, targetID, "", cmd); err != nil {
		return "", err
	}
	return cmd.ID, nil
}

// ConfirmCommand sends this console's approve/reject verdict for a
// command it was asked to run.
func (c *Client) ConfirmCommand(commandID string, approved bool) error {
	return c.sendPayload(protocol.TypeCommandConfirmation, "", "", protocol.CommandDecision{
		CommandID: commandID,
		Approved:  approved,
	})
}

// SendChat sends a direct chat message to another console.
func (c *Client) SendChat(receiverID, content string) error {
	return c.sendPayload(protocol.TypeChatMessage, receiverID, "", models.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.identity.ID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	})
}

// SendGroupChat sends a chat message fanned out to a group.
func (c *Client) SendGroupChat(groupID, content string) error {
	return c.sendPayload(protocol.TypeChatMessage, "", groupID, models.ChatMessage{
		ID:        uuid.NewString(),
		SenderID:  c.identity.ID,
		GroupID:   groupID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// CreateGroup registers a chat group on the relay. The caller is always
// a member. It returns the new group id; the relay's ack arrives via
// OnGroupAck.
func (c *Client) CreateGroup(name string, memberIDs ...string) (string, error) {
	members := append([]string{c.identity.ID}, memberIDs...)
	group := models.ChatGroup{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: c.identity.ID,
		MemberIDs: members,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.sendPayload(protocol.TypeChatGroupCreate, "", "", group); err != nil {
		return "", err
	}
	return group.ID, nil
}

// JoinGroup adds this console to an existing group.
func (c *Client) JoinGroup(groupID string) error {
	return c.sendPayload(protocol.TypeChatGroupJoin, "", "", protocol.GroupJoinRequest{
		GroupID: groupID,
	})
}

// StartDesktopStream tells the receiver a desktop stream is beginning.
func (c *Client) StartDesktopStream(receiverID string) error {
	return c.sendPayload(protocol.TypeDesktopStreamStart, receiverID, "", struct{}{})
}

// StopDesktopStream tells the receiver the desktop stream ended.
func (c *Client) StopDesktopStream(receiverID string) error {
	return c.sendPayload(protocol.TypeDesktopStreamStop, receiverID, "", struct{}{})
}

// SendDesktopFrame relays one encoded desktop frame, base64 in the
// payload. Best-effort: the relay may drop it under pressure.
func (c *Client) SendDesktopFrame(receiverID string, frame []byte) error {
	return c.sendPayload(protocol.TypeDesktopFrame, receiverID, "", base64.StdEncoding.EncodeToString(frame))
}

// SendAudioFrame relays one encoded audio frame.
func (c *Client) SendAudioFrame(receiverID string, frame []byte) error {
	return c.sendPayload(protocol.TypeAudioFrame, receiverID, "", base64.StdEncoding.EncodeToString(frame))
}

// DecodeFrame decodes the payload of a DesktopFrame or AudioFrame
// envelope back into raw bytes.
func DecodeFrame(env *protocol.Envelope) ([]byte, error) {
	var encoded string
	if err := env.DecodePayload(&encoded); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (c *Client) sendPayload(msgType protocol.MessageType, receiverID, groupID string, payload interface{}) error {
	env, err := protocol.NewEnvelope(msgType, c.identity.ID, payload)
	if err != nil {
		return err
	}
	env.ReceiverID = receiverID
	env.GroupID = groupID
	return c.sendEnvelope(env)
}

func (c *Client) sendEnvelope(env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sendPayload(protocol.TypeHeartbeat, "", "", struct{}{}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			log.Printf("dropping undecodable envelope: %v", err)
			continue
		}

		c.handleEnvelope(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) handleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuthenticationResponse:
		var resp protocol.AuthResponse
		if err := env.DecodePayload(&resp); err != nil {
			log.Printf("failed to decode authentication response: %v", err)
			return
		}
		if c.handlers.OnAuthenticated != nil {
			c.handlers.OnAuthenticated(resp)
		}

	case protocol.TypeCommandConfirmationRequest:
		var cmd models.CommandExecution
		if err := env.DecodePayload(&cmd); err != nil {
			log.Printf("failed to decode confirmation request: %v", err)
			return
		}
		if c.handlers.OnCommandRequest != nil {
			c.handlers.OnCommandRequest(cmd)
		}

	case protocol.TypeCommandResponse:
		var cmd models.CommandExecution
		if err := env.DecodePayload(&cmd); err != nil {
			log.Printf("failed to decode command response: %v", err)
			return
		}
		if c.handlers.OnCommandResponse != nil {
			c.handlers.OnCommandResponse(cmd)
		}

	case protocol.TypeChatMessage:
		var msg models.ChatMessage
		if err := env.DecodePayload(&msg); err != nil {
			log.Printf("failed to decode chat message: %v", err)
			return
		}
		if c.handlers.OnChat != nil {
			c.handlers.OnChat(msg)
		}

	case protocol.TypeChatGroupCreate, protocol.TypeChatGroupJoin:
		var ack protocol.GroupAck
		if err := env.DecodePayload(&ack); err != nil {
			log.Printf("failed to decode group ack: %v", err)
			return
		}
		if c.handlers.OnGroupAck != nil {
			c.handlers.OnGroupAck(env.Type, ack)
		}

	case protocol.TypeDesktopStreamStart,
		protocol.TypeDesktopStreamStop,
		protocol.TypeDesktopFrame,
		protocol.TypeAudioFrame:
		if c.handlers.OnStream != nil {
			c.handlers.OnStream(env)
		}

	case protocol.TypeError:
		var info protocol.ErrorInfo
		if err := env.DecodePayload(&info); err != nil {
			log.Printf("failed to decode error envelope: %v", err)
			return
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(info.Error)
		} else {
			log.Printf("relay error: %s", info.Error)
		}
	}
}
