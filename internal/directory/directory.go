// Package directory is the authoritative mapping from logical client id
// to client metadata, including which session token (if any) the client
// is currently reachable at.
package directory

import (
	"log"
	"sync"
	"time"

	"github.com/xlab2016/space-terminal-public/internal/models"
)

// Roster is the optional persistence layer behind the directory. The
// in-memory map stays authoritative; roster writes are best-effort.
type Roster interface {
	UpsertClient(*models.Client) error
	SetOnline(id string, online bool, lastSeen time.Time) error
	SetSession(id, sessionID string) error
	LoadClients() ([]models.Client, error)
}

// Directory tracks every client the relay has ever seen. Records are
// never deleted; disconnects only clear the session binding. All
// operations are safe under concurrent callers and total: unknown ids
// are no-ops, never errors.
type Directory struct {
	mu      sync.RWMutex
	clients map[string]*models.Client
	roster  Roster // may be nil
}

// New creates a directory, preloading persisted clients from the roster
// when one is given. Preloaded clients start offline with no session.
func New(roster Roster) (*Directory, error) {
	d := &Directory{
		clients: make(map[string]*models.Client),
		roster:  roster,
	}

	if roster != nil {
		persisted, err := roster.LoadClients()
		if err != nil {
			return nil, err
		}
		for i := range persisted {
			c := persisted[i]
			c.IsOnline = false
			c.SessionID = ""
			d.clients[c.ID] = &c
		}
	}

	return d, nil
}

// Get returns a snapshot of the client record for the given id.
func (d *Directory) Get(id string) (models.Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[id]
	if !ok {
		return models.Client{}, false
	}
	return *c, true
}

// List returns a snapshot of every known client.
func (d *Directory) List() []models.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, *c)
	}
	return out
}

// ListOnline returns a snapshot of the clients currently flagged online.
func (d *Directory) ListOnline() []models.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Client
	for _, c := range d.clients {
		if c.IsOnline {
			out = append(out, *c)
		}
	}
	return out
}

// Register inserts or fully replaces the record for the client's id.
func (d *Directory) Register(client models.Client) {
	d.mu.Lock()
	d.clients[client.ID] = &client
	d.mu.Unlock()

	if d.roster != nil {
		if err := d.roster.UpsertClient(&client); err != nil {
			log.Printf("roster upsert for client %s failed: %v", client.ID, err)
		}
	}
}

// SetOnline updates the online flag and last-seen time. Unknown ids are
// ignored.
func (d *Directory) SetOnline(id string, online bool) {
	now := time.Now().UTC()

	d.mu.Lock()
	c, ok := d.clients[id]
	if ok {
		c.IsOnline = online
		c.LastSeen = now
	}
	d.mu.Unlock()

	if ok && d.roster != nil {
		if err := d.roster.SetOnline(id, online, now); err != nil {
			log.Printf("roster status update for client %s failed: %v", id, err)
		}
	}
}

// SetSession binds a session token to the client, overwriting any prior
// binding. An empty token clears the binding. Unknown ids are ignored.
func (d *Directory) SetSession(id, token string) {
	d.mu.Lock()
	c, ok := d.clients[id]
	if ok {
		c.SessionID = token
	}
	d.mu.Unlock()

	if ok && d.roster != nil {
		if err := d.roster.SetSession(id, token); err != nil {
			log.Printf("roster session update for client %s failed: %v", id, err)
		}
	}
}

// DropSession clears the binding for whichever client currently holds
// the given session token, flipping it offline. It returns the client
// id, if any, that was bound to the token. A stale token that was
// already overwritten by a newer authentication matches nothing.
func (d *Directory) DropSession(token string) (string, bool) {
	now := time.Now().UTC()

	d.mu.Lock()
	var dropped *models.Client
	for _, c := range d.clients {
		if c.SessionID == token {
			c.SessionID = ""
			c.IsOnline = false
			c.LastSeen = now
			dropped = c
			break
		}
	}
	d.mu.Unlock()

	if dropped == nil {
		return "", false
	}

	if d.roster != nil {
		if err := d.roster.SetSession(dropped.ID, ""); err != nil {
			log.Printf("roster session update for client %s failed: %v", dropped.ID, err)
		}
		if err := d.roster.SetOnline(dropped.ID, false, now); err != nil {
			log.Printf("roster status update for client %s failed: %v", dropped.ID, err)
		}
	}
	return dropped.ID, true
}
