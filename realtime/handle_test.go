package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"support-chat/models"
)

// recorder is a Handle that keeps every frame it is sent.
type recorder struct {
	id    string
	ident models.Identity

	mu     sync.Mutex
	frames []Frame
	dead   bool
}

func newRecorder(id, userID string) *recorder {
	return &recorder{id: id, ident: models.Identity{UserID: userID, Role: "user", DisplayName: userID}}
}

func (r *recorder) ID() string                { return r.id }
func (r *recorder) Identity() models.Identity { return r.ident }

func (r *recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return errors.New("dead")
	}
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Event)
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.events() {
		if e == event {
			n++
		}
	}
	return n
}

func TestEncode(t *testing.T) {
	raw, err := Encode("user_online", map[string]string{"userId": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != "user_online" || string(f.Data) != `{"userId":"u1"}` {
		t.Fatalf("unexpected frame %s", raw)
	}
	if _, err := Encode("bad", make(chan int)); err == nil {
		t.Fatal("expected an encoding error")
	}
}
