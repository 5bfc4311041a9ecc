package models

import "time"

// ClientType identifies the platform a console runs on.
type ClientType string

const (
	ClientTypeWindows ClientType = "Windows"
	ClientTypeMacOS   ClientType = "MacOS"
	ClientTypeAndroid ClientType = "Android"
	ClientTypeIPhone  ClientType = "IPhone"
)

// Client is a logical identity known to the relay. SessionID is the
// ephemeral token of the connection currently bound to this identity;
// it is empty while the client is offline. A new authentication for the
// same id overwrites the previous token.
type Client struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	PublicKey string     `json:"publicKey"`
	Type      ClientType `json:"type"`
	LastSeen  time.Time  `json:"lastSeen"`
	IsOnline  bool       `json:"isOnline"`
	SessionID string     `json:"sessionId,omitempty"`
}
