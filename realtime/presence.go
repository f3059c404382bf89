package realtime

import (
	"sort"
	"sync"
)

// Presence maps a user to the set of sessions they currently hold.
type Presence struct {
	mu    sync.RWMutex
	users map[string]map[string]Handle // userID -> handleID -> handle
}

func NewPresence() *Presence {
	return &Presence{users: make(map[string]map[string]Handle)}
}

// Add registers h and reports whether it is the user's first session.
func (p *Presence) Add(h Handle) (first bool) {
	userID := h.Identity().UserID
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.users[userID]
	if set == nil {
		set = make(map[string]Handle)
		p.users[userID] = set
	}
	if _, ok := set[h.ID()]; ok {
		return false
	}
	set[h.ID()] = h
	return len(set) == 1
}

// Remove drops h and reports whether it was the user's last session.
func (p *Presence) Remove(h Handle) (last bool) {
	userID := h.Identity().UserID
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.users[userID]
	if !ok {
		return false
	}
	if _, ok := set[h.ID()]; !ok {
		return false
	}
	delete(set, h.ID())
	if len(set) == 0 {
		delete(p.users, userID)
		return true
	}
	return false
}

func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}

// HandlesOf returns a snapshot of the user's sessions.
func (p *Presence) HandlesOf(userID string) []Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.users[userID]
	out := make([]Handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

// AllUsers returns the online user ids, sorted.
func (p *Presence) AllUsers() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}
