package realtime

import (
	"sync"

	"support-chat/metrics"

	"github.com/rs/zerolog"
)

// Router coordinates sessions and logical rooms. Emissions are encoded once
// and queued on each target session while the membership read lock is held,
// so events from one producer reach every session in call order.
type Router struct {
	mu          sync.RWMutex
	presence    *Presence
	handles     map[string]Handle            // handleID -> handle
	rooms       map[string]map[string]Handle // room -> handleID -> handle
	handleRooms map[string]map[string]struct{}
	log         zerolog.Logger
}

// NewRouter constructs an initialized Router resolving users through presence.
func NewRouter(presence *Presence, log zerolog.Logger) *Router {
	return &Router{
		presence:    presence,
		handles:     make(map[string]Handle),
		rooms:       make(map[string]map[string]Handle),
		handleRooms: make(map[string]map[string]struct{}),
		log:         log.With().Str("component", "router").Logger(),
	}
}

// Attach makes h reachable by Broadcast.
func (r *Router) Attach(h Handle) {
	r.mu.Lock()
	r.handles[h.ID()] = h
	if r.handleRooms[h.ID()] == nil {
		r.handleRooms[h.ID()] = make(map[string]struct{})
	}
	r.mu.Unlock()
}

// Detach removes h from every room and returns the rooms it was in.
func (r *Router) Detach(h Handle) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, h.ID())
	var left []string
	for room := range r.handleRooms[h.ID()] {
		r.leaveLocked(room, h.ID())
		left = append(left, room)
	}
	delete(r.handleRooms, h.ID())
	return left
}

// Join adds h to room. Unattached handles are ignored.
func (r *Router) Join(h Handle, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.ID()]; !ok {
		return
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]Handle)
		r.rooms[room] = members
	}
	members[h.ID()] = h
	r.handleRooms[h.ID()][room] = struct{}{}
}

// Leave removes h from room.
func (r *Router) Leave(h Handle, room string) {
	r.mu.Lock()
	r.leaveLocked(room, h.ID())
	r.mu.Unlock()
}

func (r *Router) InRoom(h Handle, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][h.ID()]
	return ok
}

// RoomSize returns the number of sessions in room.
func (r *Router) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// EmitToRoom delivers to every session in room except exclude (may be nil)
// and returns the number of sessions reached.
func (r *Router) EmitToRoom(room, event string, payload interface{}, exclude Handle) int {
	frame, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for id, h := range r.rooms[room] {
		if id == excludeID {
			continue
		}
		if r.deliver(h, event, frame) {
			delivered++
		}
	}
	return delivered
}

// EmitToHandle delivers to a single session.
func (r *Router) EmitToHandle(h Handle, event string, payload interface{}) bool {
	frame, ok := r.encode(event, payload)
	if !ok {
		return false
	}
	return r.deliver(h, event, frame)
}

// EmitToUser delivers to every session the user holds. It is a no-op for
// offline users.
func (r *Router) EmitToUser(userID, event string, payload interface{}) int {
	handles := r.presence.HandlesOf(userID)
	if len(handles) == 0 {
		return 0
	}
	frame, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	delivered := 0
	for _, h := range handles {
		if r.deliver(h, event, frame) {
			delivered++
		}
	}
	return delivered
}

// Broadcast delivers to every attached session.
func (r *Router) Broadcast(event string, payload interface{}) int {
	frame, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for _, h := range r.handles {
		if r.deliver(h, event, frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) encode(event string, payload interface{}) ([]byte, bool) {
	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encode event")
		return nil, false
	}
	return frame, true
}

// deliver drops silently for dead sessions.
func (r *Router) deliver(h Handle, event string, frame []byte) bool {
	if err := h.Send(frame); err != nil {
		metrics.PushDropped.Inc()
		r.log.Debug().Err(err).Str("event", event).Str("handle", h.ID()).Msg("push dropped")
		return false
	}
	return true
}

func (r *Router) leaveLocked(room, handleID string) {
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, handleID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if memberships, ok := r.handleRooms[handleID]; ok {
		delete(memberships, room)
	}
}
