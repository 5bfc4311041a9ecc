package store

import (
	"sync"

	"github.com/xlab2016/space-terminal-public/internal/models"
)

// Groups is the chat-group table, keyed by group id. Groups are never
// deleted by the router.
type Groups struct {
	mu   sync.RWMutex
	byID map[string]*models.ChatGroup
}

func NewGroups() *Groups {
	return &Groups{byID: make(map[string]*models.ChatGroup)}
}

// Put stores a group, overwriting any entry with the same id.
func (g *Groups) Put(group models.ChatGroup) {
	group.MemberIDs = append([]string(nil), group.MemberIDs...)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byID[group.ID] = &group
}

// Get returns a snapshot of the group with the given id, including a
// copy of its member set.
func (g *Groups) Get(id string) (models.ChatGroup, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	group, ok := g.byID[id]
	if !ok {
		return models.ChatGroup{}, false
	}
	out := *group
	out.MemberIDs = append([]string(nil), group.MemberIDs...)
	return out, true
}

// Join adds a member to a group. Duplicate joins are no-ops. It reports
// whether the group exists.
func (g *Groups) Join(groupID, memberID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.byID[groupID]
	if !ok {
		return false
	}
	for _, id := range group.MemberIDs {
		if id == memberID {
			return true
		}
	}
	group.MemberIDs = append(group.MemberIDs, memberID)
	return true
}

// Remove deletes the group with the given id, if present.
func (g *Groups) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byID, id)
}

// Snapshot returns a copy of every tracked group.
func (g *Groups) Snapshot() []models.ChatGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.ChatGroup, 0, len(g.byID))
	for _, group := range g.byID {
		snap := *group
		snap.MemberIDs = append([]string(nil), group.MemberIDs...)
		out = append(out, snap)
	}
	return out
}
