// Package store holds the router's in-memory tables: in-flight command
// executions and chat groups. Each table supports per-key atomic
// updates only; no operation spans two entries.
package store

import (
	"sync"
	"time"

	"github.com/xlab2016/space-terminal-public/internal/models"
)

// Commands is the pending-command table, keyed by command id. Entries
// are not evicted automatically; Sweep exists so a deployment can run
// TTL eviction on an interval without touching router call sites.
type Commands struct {
	mu   sync.RWMutex
	byID map[string]*models.CommandExecution
}

func NewCommands() *Commands {
	return &Commands{byID: make(map[string]*models.CommandExecution)}
}

// Insert stores a command execution, overwriting any entry with the
// same id.
func (c *Commands) Insert(cmd models.CommandExecution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[cmd.ID] = &cmd
}

// Get returns a snapshot of the command with the given id.
func (c *Commands) Get(id string) (models.CommandExecution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.byID[id]
	if !ok {
		return models.CommandExecution{}, false
	}
	return *cmd, true
}

// Resolve records the target's verdict for a pending command: status
// becomes Confirmed or Rejected and the confirmation time is stamped.
// It returns a snapshot of the updated command, or false for an unknown
// id.
func (c *Commands) Resolve(id string, approved bool, at time.Time) (models.CommandExecution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd, ok := c.byID[id]
	if !ok {
		return models.CommandExecution{}, false
	}
	if approved {
		cmd.Status = models.CommandConfirmed
	} else {
		cmd.Status = models.CommandRejected
	}
	cmd.ConfirmedAt = &at
	return *cmd, true
}

// Remove deletes the command with the given id, if present.
func (c *Commands) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// Snapshot returns a copy of every tracked command.
func (c *Commands) Snapshot() []models.CommandExecution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CommandExecution, 0, len(c.byID))
	for _, cmd := range c.byID {
		out = append(out, *cmd)
	}
	return out
}

// Sweep removes commands requested before the cutoff and returns how
// many were evicted.
func (c *Commands) Sweep(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for id, cmd := range c.byID {
		if cmd.RequestedAt.Before(cutoff) {
			delete(c.byID, id)
			evicted++
		}
	}
	return evicted
}
