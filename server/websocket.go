package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the websocket entry point: it upgrades requests at the
// well-known path and hands the resulting connections to the registry.
type Server struct {
	registry *Registry
}

func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

// HandleWebSocket upgrades an HTTP request to a websocket connection.
// A non-upgrade request gets a 400 from the upgrader.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	token := s.registry.Accept(conn)
	log.Printf("session %s connected from %s", token, r.RemoteAddr)
}
