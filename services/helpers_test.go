package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"support-chat/config"
	"support-chat/models"
	"support-chat/realtime"
	"support-chat/store"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

var dbSeq int64

type testEnv struct {
	chat    *ChatService
	store   *store.Store
	gateway *Gateway
	timers  *realtime.Timers
	router  *realtime.Router
}

var (
	alice = models.Identity{UserID: "u1", Role: "user", DisplayName: "alice"}
	bob   = models.Identity{UserID: "u2", Role: "user", DisplayName: "bob"}
	sam   = models.Identity{UserID: "s1", Role: "support", DisplayName: "sam"}
	ada   = models.Identity{UserID: "a1", Role: "admin", DisplayName: "ada"}
)

func newEnv(t *testing.T, withStaff bool) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))
	db, err := config.OpenDB(sqlite.Open(dsn), logger.Discard)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	recent := time.Now().UTC().Add(-time.Minute)
	earlier := time.Now().UTC().Add(-time.Hour)
	users := []models.User{
		{ID: "u1", Username: "alice", Email: "alice@example.com", Role: "user"},
		{ID: "u2", Username: "bob", Email: "bob@example.com", Role: "user"},
	}
	if withStaff {
		users = append(users,
			models.User{ID: "s1", Username: "sam", Role: "support", LastLogin: &recent},
			models.User{ID: "a1", Username: "ada", Role: "admin", LastLogin: &earlier},
		)
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	cfg := config.DefaultChatConfig()
	cfg.TypingTimeout = 50 * time.Millisecond
	presence := realtime.NewPresence()
	timers := realtime.NewTimers()
	router := realtime.NewRouter(presence, zerolog.Nop())
	st := store.New(db, store.WithPageLimits(cfg.ConversationPageMax, cfg.MessagePageMax))
	chat := NewChatService(st, presence, timers, router, cfg, zerolog.Nop())
	return &testEnv{
		chat:    chat,
		store:   st,
		gateway: NewGateway(chat, config.DefaultWSConfig(), zerolog.Nop()),
		timers:  timers,
		router:  router,
	}
}

// recorder is a session handle that keeps what it is sent.
type recorder struct {
	id    string
	ident models.Identity

	mu     sync.Mutex
	frames []realtime.Frame
	dead   bool
}

var handleSeq int64

func newRecorder(ident models.Identity) *recorder {
	return &recorder{id: fmt.Sprintf("h%d", atomic.AddInt64(&handleSeq, 1)), ident: ident}
}

func (r *recorder) ID() string                { return r.id }
func (r *recorder) Identity() models.Identity { return r.ident }

func (r *recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return errors.New("closed")
	}
	var f realtime.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) all(event string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []json.RawMessage
	for _, f := range r.frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (r *recorder) count(event string) int { return len(r.all(event)) }

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Event)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

// last decodes the most recent payload for event into v.
func (r *recorder) last(t *testing.T, event string, v interface{}) {
	t.Helper()
	frames := r.all(event)
	if len(frames) == 0 {
		t.Fatalf("%s never received %s; got %v", r.ident.UserID, event, r.events())
	}
	if err := json.Unmarshal(frames[len(frames)-1], v); err != nil {
		t.Fatalf("decode %s: %v", event, err)
	}
}

// waitFor polls until the handle has n frames for event.
func (r *recorder) waitFor(t *testing.T, event string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(event) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: timed out waiting for %d %s, got %v", r.ident.UserID, n, event, r.events())
}

func (e *testEnv) connect(ident models.Identity) *recorder {
	h := newRecorder(ident)
	e.chat.Connect(h)
	return h
}

func (e *testEnv) dispatch(h *recorder, event string, data interface{}) {
	raw, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if err != nil {
		panic(err)
	}
	e.gateway.Dispatch(context.Background(), h, raw)
}

func (e *testEnv) start(t *testing.T, caller models.Identity, subject string) *ConversationView {
	t.Helper()
	conv, _, err := e.chat.StartConversation(context.Background(), caller, subject)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	return conv
}

func (e *testEnv) join(t *testing.T, h *recorder, id string) {
	t.Helper()
	e.dispatch(h, EventJoinConversation, map[string]string{"conversationId": id})
	if h.count(EventError) != 0 {
		var ev ErrorEvent
		h.last(t, EventError, &ev)
		t.Fatalf("join failed: %s", ev.Message)
	}
}

func ref(id string) map[string]string { return map[string]string{"conversationId": id} }

func participant(t *testing.T, s *store.Store, convID, userID string) models.ConversationParticipant {
	t.Helper()
	conv, err := s.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatal(err)
	}
	p := conv.Participant(userID)
	if p == nil {
		t.Fatalf("%s is not a participant", userID)
	}
	return *p
}
