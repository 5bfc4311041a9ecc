package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of traffic an envelope carries.
type MessageType string

const (
	TypeAuthentication             MessageType = "Authentication"
	TypeAuthenticationResponse     MessageType = "AuthenticationResponse"
	TypeCommand                    MessageType = "Command"
	TypeCommandResponse            MessageType = "CommandResponse"
	TypeCommandConfirmationRequest MessageType = "CommandConfirmationRequest"
	TypeCommandConfirmation        MessageType = "CommandConfirmation"
	TypeDesktopStreamStart         MessageType = "DesktopStreamStart"
	TypeDesktopStreamStop          MessageType = "DesktopStreamStop"
	TypeDesktopFrame               MessageType = "DesktopFrame"
	TypeAudioFrame                 MessageType = "AudioFrame"
	TypeChatMessage                MessageType = "ChatMessage"
	TypeChatGroupCreate            MessageType = "ChatGroupCreate"
	TypeChatGroupJoin              MessageType = "ChatGroupJoin"
	TypeChatGroupLeave             MessageType = "ChatGroupLeave"
	TypeHeartbeat                  MessageType = "Heartbeat"
	TypeError                      MessageType = "Error"
)

// ServerID is the sender id the relay uses on envelopes it originates.
const ServerID = "server"

// Envelope is the wire-level message wrapper. Payload is an opaque
// string holding a type-specific JSON document. Envelopes are immutable
// once sent; responses are new envelopes, never mutated inbound ones.
type Envelope struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	SenderID    string      `json:"senderId"`
	ReceiverID  string      `json:"receiverId,omitempty"`
	GroupID     string      `json:"groupId,omitempty"`
	Payload     string      `json:"payload"`
	Timestamp   time.Time   `json:"timestamp"`
	IsEncrypted bool        `json:"isEncrypted"`
}

// NewEnvelope constructs an outbound envelope of the given type with the
// payload encoded as JSON.
func NewEnvelope(msgType MessageType, senderID string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		SenderID:  senderID,
		Payload:   string(raw),
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParseEnvelope decodes a complete wire message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload decodes the opaque payload into the type-specific
// structure for this envelope's message type.
func (e *Envelope) DecodePayload(v interface{}) error {
	return json.Unmarshal([]byte(e.Payload), v)
}
