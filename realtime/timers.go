package realtime

import (
	"sync"
	"time"
)

// TimerKey identifies a typing timer.
type TimerKey struct {
	ConversationID string
	UserID         string
}

type timerEntry struct {
	t *time.Timer
}

// Timers keeps at most one pending expiry timer per key.
type Timers struct {
	mu     sync.Mutex
	timers map[TimerKey]*timerEntry
}

func NewTimers() *Timers {
	return &Timers{timers: make(map[TimerKey]*timerEntry)}
}

// Arm (re)starts the timer for key. Any earlier timer for the key is stopped
// and will not fire. onExpire runs once, after the entry is removed.
func (r *Timers) Arm(key TimerKey, d time.Duration, onExpire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.timers[key]; ok {
		prev.t.Stop()
	}
	e := &timerEntry{}
	e.t = time.AfterFunc(d, func() {
		r.mu.Lock()
		current, ok := r.timers[key]
		fire := ok && current == e
		if fire {
			delete(r.timers, key)
		}
		r.mu.Unlock()
		if fire {
			onExpire()
		}
	})
	r.timers[key] = e
}

// Cancel stops the timer for key and reports whether one was pending.
func (r *Timers) Cancel(key TimerKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[key]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(r.timers, key)
	return true
}

// CancelUser stops every timer owned by userID and returns their keys.
func (r *Timers) CancelUser(userID string) []TimerKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []TimerKey
	for key, e := range r.timers {
		if key.UserID != userID {
			continue
		}
		e.t.Stop()
		delete(r.timers, key)
		keys = append(keys, key)
	}
	return keys
}

func (r *Timers) Pending(key TimerKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

func (r *Timers) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
