package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"support-chat/config"
	"support-chat/models"
	"support-chat/realtime"
	"support-chat/services"
	"support-chat/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

const secret = "routes-secret"

var dbSeq int64

var (
	alice = models.Identity{UserID: "u1", Role: "user", DisplayName: "alice"}
	bob   = models.Identity{UserID: "u2", Role: "user", DisplayName: "bob"}
	sam   = models.Identity{UserID: "s1", Role: "support", DisplayName: "sam"}
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(t *testing.T, withStaff bool) *gin.Engine {
	t.Helper()
	dsn := fmt.Sprintf("file:routes_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := config.OpenDB(sqlite.Open(dsn), logger.Discard)
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatal(err)
	}
	users := []models.User{
		{ID: "u1", Username: "alice", Email: "alice@example.com", Role: "user"},
		{ID: "u2", Username: "bob", Role: "user"},
	}
	if withStaff {
		users = append(users, models.User{ID: "s1", Username: "sam", Role: "support"})
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatal(err)
		}
	}

	cfg := &config.Config{Env: "test", Chat: config.DefaultChatConfig(), WS: config.DefaultWSConfig(), AllowedOrigins: []string{"*"}}
	presence := realtime.NewPresence()
	router := realtime.NewRouter(presence, zerolog.Nop())
	chat := services.NewChatService(store.New(db, store.WithPageLimits(cfg.Chat.ConversationPageMax, cfg.Chat.MessagePageMax)), presence, realtime.NewTimers(), router, cfg.Chat, zerolog.Nop())
	return RegisterRoutes(Deps{
		Config:   cfg,
		Chat:     chat,
		Gateway:  services.NewGateway(chat, cfg.WS, zerolog.Nop()),
		Verifier: services.NewJWTVerifier(secret, nil),
		Log:      zerolog.Nop(),
	})
}

func tokenFor(t *testing.T, ident models.Identity) string {
	t.Helper()
	tok, err := services.SignToken(secret, ident, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Pagination *struct {
		Page  int   `json:"page"`
		Limit int   `json:"limit"`
		Total int64 `json:"total"`
		Pages int64 `json:"pages"`
	} `json:"pagination"`
}

func call(t *testing.T, r http.Handler, method, path string, ident *models.Identity, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ident != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *ident))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: body is not an envelope: %s", method, path, w.Body.String())
		}
	}
	return w.Code, env
}

func TestAuthRequired(t *testing.T) {
	r := newEngine(t, true)
	code, env := call(t, r, http.MethodGet, "/api/chat/conversations", nil, nil)
	if code != http.StatusUnauthorized || env.Success || env.Message == "" {
		t.Fatalf("got %d %+v", code, env)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chat/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token: %d", w.Code)
	}
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	r := newEngine(t, true)
	if code, _ := call(t, r, http.MethodGet, "/api/admin/chat/conversations", &alice, nil); code != http.StatusForbidden {
		t.Fatalf("user on admin route: %d", code)
	}
	if code, _ := call(t, r, http.MethodGet, "/api/admin/chat/stats", &sam, nil); code != http.StatusOK {
		t.Fatalf("staff stats: %d", code)
	}
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	r := newEngine(t, true)

	code, env := call(t, r, http.MethodPost, "/api/chat/conversations", &alice, map[string]string{"subject": "Billing"})
	if code != http.StatusCreated || !env.Success {
		t.Fatalf("create: %d %+v", code, env)
	}
	var created struct {
		Conversation services.ConversationView `json:"conversation"`
		Created      bool                      `json:"created"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	id := created.Conversation.ID
	if !created.Created || id == "" {
		t.Fatalf("unexpected create payload %s", env.Data)
	}

	code, env = call(t, r, http.MethodPost, "/api/chat/conversations", &alice, nil)
	if code != http.StatusOK {
		t.Fatalf("second create: %d", code)
	}

	if code, _ := call(t, r, http.MethodPost, "/api/chat/conversations/"+id+"/messages", &alice, map[string]string{"content": "   "}); code != http.StatusBadRequest {
		t.Fatalf("blank content: %d", code)
	}
	code, env = call(t, r, http.MethodPost, "/api/chat/conversations/"+id+"/messages", &alice, map[string]string{"content": "hello"})
	if code != http.StatusCreated {
		t.Fatalf("send: %d %s", code, env.Message)
	}
	var sent services.SendResult
	if err := json.Unmarshal(env.Data, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Message.Content != "hello" || sent.Ack.MessageID != sent.Message.ID {
		t.Fatalf("unexpected send result %+v", sent)
	}

	if code, _ := call(t, r, http.MethodGet, "/api/chat/conversations/"+id+"/messages", &bob, nil); code != http.StatusNotFound {
		t.Fatalf("outsider history: %d", code)
	}
	code, env = call(t, r, http.MethodGet, "/api/chat/conversations/"+id+"/messages?limit=10", &alice, nil)
	if code != http.StatusOK {
		t.Fatalf("history: %d", code)
	}
	var hist services.MessageHistory
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Messages) != 2 || hist.Messages[1].Content != "hello" {
		t.Fatalf("history = %+v", hist.Messages)
	}
	if code, _ := call(t, r, http.MethodGet, "/api/chat/conversations/"+id+"/messages?before=yesterday", &alice, nil); code != http.StatusBadRequest {
		t.Fatalf("bad cursor: %d", code)
	}

	code, env = call(t, r, http.MethodGet, "/api/chat/unread-count", &sam, nil)
	if code != http.StatusOK || string(env.Data) != `{"unreadCount":1}` {
		t.Fatalf("unread-count: %d %s", code, env.Data)
	}
	if code, _ := call(t, r, http.MethodPatch, "/api/chat/conversations/"+id+"/read", &sam, nil); code != http.StatusOK {
		t.Fatalf("mark read: %d", code)
	}

	code, env = call(t, r, http.MethodGet, "/api/admin/chat/conversations?search=alice", &sam, nil)
	if code != http.StatusOK || env.Pagination == nil || env.Pagination.Total != 1 || env.Pagination.Pages != 1 {
		t.Fatalf("admin listing: %d %+v", code, env.Pagination)
	}
	if code, _ := call(t, r, http.MethodGet, "/api/admin/chat/conversations?status=bogus", &sam, nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", code)
	}

	if code, _ := call(t, r, http.MethodPatch, "/api/admin/chat/conversations/"+id+"/close", &sam, nil); code != http.StatusOK {
		t.Fatalf("close: %d", code)
	}
	if code, _ := call(t, r, http.MethodPost, "/api/chat/conversations/"+id+"/messages", &alice, map[string]string{"content": "hi?"}); code != http.StatusNotFound {
		t.Fatalf("send to closed: %d", code)
	}
	if code, _ := call(t, r, http.MethodPatch, "/api/admin/chat/conversations/"+id+"/reopen", &sam, nil); code != http.StatusOK {
		t.Fatalf("reopen: %d", code)
	}
	if code, _ := call(t, r, http.MethodPatch, "/api/admin/chat/conversations/"+id+"/reopen", &sam, nil); code != http.StatusConflict {
		t.Fatalf("reopen active: %d", code)
	}

	if code, _ := call(t, r, http.MethodDelete, "/api/chat/messages/"+sent.Message.ID, &sam, nil); code != http.StatusForbidden {
		t.Fatalf("delete by non-sender: %d", code)
	}
	if code, _ := call(t, r, http.MethodDelete, "/api/chat/messages/"+sent.Message.ID, &alice, nil); code != http.StatusOK {
		t.Fatalf("delete by sender: %d", code)
	}
}

func TestStartWithoutStaff(t *testing.T) {
	r := newEngine(t, false)
	code, env := call(t, r, http.MethodPost, "/api/chat/conversations", &alice, map[string]string{"subject": "Help"})
	if code != http.StatusServiceUnavailable || env.Message != "no staff available" {
		t.Fatalf("got %d %+v", code, env)
	}
}

func TestUserInfo(t *testing.T) {
	r := newEngine(t, true)
	code, env := call(t, r, http.MethodGet, "/api/userinfo", &alice, nil)
	if code != http.StatusOK {
		t.Fatal(code)
	}
	var info struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		IsStaff bool   `json:"isStaff"`
	}
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatal(err)
	}
	if info.ID != "u1" || info.Email != "alice@example.com" || info.IsStaff {
		t.Fatalf("userinfo = %+v", info)
	}
}

func TestOpsRoutes(t *testing.T) {
	r := newEngine(t, true)
	if code, _ := call(t, r, http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "chat_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestWebsocketHandshake(t *testing.T) {
	srv := httptest.NewServer(newEngine(t, true))
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake without token should be refused with 401, got %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+tokenFor(t, alice), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f realtime.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Event != services.EventUserOnline {
		t.Fatalf("first frame = %q", f.Event)
	}
}
