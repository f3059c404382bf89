// Package realtime holds the process-local push state: who is connected,
// which rooms each session joined and the pending typing timers. None of it
// is persisted; a restart starts from empty registries.
package realtime

import (
	"encoding/json"

	"support-chat/models"
)

// Frame is the wire envelope for both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload under event.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Handle is one live authenticated session.
type Handle interface {
	ID() string
	Identity() models.Identity
	// Send queues an encoded frame. It must not block.
	Send(frame []byte) error
}
