package server

import (
	"encoding/json"
	"net/http"

	"github.com/xlab2016/space-terminal-public/internal/directory"
	"github.com/xlab2016/space-terminal-public/internal/store"
)

// AdminHandler exposes read-only diagnostics over the relay's tables.
type AdminHandler struct {
	directory *directory.Directory
	registry  *Registry
	commands  *store.Commands
	groups    *store.Groups
}

func NewAdminHandler(dir *directory.Directory, registry *Registry, commands *store.Commands, groups *store.Groups) *AdminHandler {
	return &AdminHandler{
		directory: dir,
		registry:  registry,
		commands:  commands,
		groups:    groups,
	}
}

func (a *AdminHandler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// HandleClients returns the full client roster.
func (a *AdminHandler) HandleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, a.directory.List())
}

// HandleOnlineClients returns the clients currently flagged online.
func (a *AdminHandler) HandleOnlineClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, a.directory.ListOnline())
}

// HandleSessions returns the live session tokens.
func (a *AdminHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, map[string]interface{}{
		"sessions": a.registry.SessionTokens(),
	})
}

// HandleCommands returns a snapshot of the pending-command table.
func (a *AdminHandler) HandleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, a.commands.Snapshot())
}

// HandleGroups returns a snapshot of the chat-group table.
func (a *AdminHandler) HandleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, a.groups.Snapshot())
}
