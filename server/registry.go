package server

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xlab2016/space-terminal-public/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // desktop frames are large
	sendBufferSize = 256
)

// Handler consumes decoded envelopes from connection receive loops,
// tagged with the originating session token. Implemented by *Router.
type Handler interface {
	HandleEnvelope(env *protocol.Envelope, sessionToken string)
}

// conn is one live transport session, owned exclusively by the
// registry. The write pump is the only writer on the websocket.
type conn struct {
	token string
	ws    *websocket.Conn
	send  chan []byte
}

// Registry owns the set of live connections, keyed by session token.
// Everything outside the registry references a connection only by its
// token.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*conn
	handler Handler
	onClose func(sessionToken string)
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*conn)}
}

// SetHandler sets the dispatch entry point for inbound envelopes. Must
// be called before Accept.
func (r *Registry) SetHandler(h Handler) {
	r.handler = h
}

// SetCloseHook registers a callback fired after a connection has been
// deregistered, so session bindings can be cleared.
func (r *Registry) SetCloseHook(fn func(sessionToken string)) {
	r.onClose = fn
}

// Accept registers a new connection, mints its session token and starts
// its read and write pumps. Tokens are never reused.
func (r *Registry) Accept(ws *websocket.Conn) string {
	c := &conn{
		token: uuid.NewString(),
		ws:    ws,
		send:  make(chan []byte, sendBufferSize),
	}

	r.mu.Lock()
	r.conns[c.token] = c
	r.mu.Unlock()

	go r.writePump(c)
	go r.readPump(c)

	return c.token
}

// Send queues an envelope for the named connection. An unknown token or
// a closed connection is logged and ignored, never an error to the
// caller.
func (r *Registry) Send(token string, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	// The queue attempt happens under the read lock so it cannot race
	// remove's close of the send channel.
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[token]
	if !ok {
		log.Printf("drop %s envelope for unknown session %s", env.Type, token)
		return nil
	}

	select {
	case c.send <- data:
	default:
		log.Printf("send buffer full for session %s, dropping %s envelope", token, env.Type)
	}
	return nil
}

// Broadcast queues an envelope for every open connection except the
// excluded session. Individual failures never abort the rest.
func (r *Registry) Broadcast(env *protocol.Envelope, excludeToken string) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for token, c := range r.conns {
		if token == excludeToken {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("send buffer full for session %s, dropping broadcast", token)
		}
	}
	return nil
}

// SessionTokens returns a snapshot of the live session tokens.
func (r *Registry) SessionTokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]string, 0, len(r.conns))
	for token := range r.conns {
		tokens = append(tokens, token)
	}
	return tokens
}

// remove deregisters a connection. Idempotent: only the first call for
// a token closes the send channel.
func (r *Registry) remove(token string) {
	r.mu.Lock()
	c, ok := r.conns[token]
	if ok {
		delete(r.conns, token)
		close(c.send)
	}
	r.mu.Unlock()
}

// readPump runs until the connection closes or errors. The websocket
// library reassembles fragmented frames, so each ReadMessage yields one
// complete logical message. A message that fails to decode is dropped;
// it never terminates the loop.
func (r *Registry) readPump(c *conn) {
	defer func() {
		r.remove(c.token)
		c.ws.Close()
		if r.onClose != nil {
			r.onClose(c.token)
		}
		log.Printf("session %s disconnected", c.token)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error on session %s: %v", c.token, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			log.Printf("dropping undecodable message on session %s: %v", c.token, err)
			continue
		}

		r.handler.HandleEnvelope(env, c.token)
	}
}

func (r *Registry) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
