package models

import "time"

// ChatMessage is the payload of a ChatMessage envelope. Exactly one of
// ReceiverID (direct) or GroupID (fan-out) is expected to be set.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}
