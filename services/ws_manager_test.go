package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"support-chat/realtime"

	"github.com/gorilla/websocket"
)

func TestDispatchRejectsBadFrames(t *testing.T) {
	e := newEnv(t, true)
	user := e.connect(alice)

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `hello`, "malformed event"},
		{"no event", `{"data":{}}`, "malformed event"},
		{"unknown event", `{"event":"bogus","data":{}}`, `unknown event "bogus"`},
		{"missing payload", `{"event":"join_conversation"}`, "event payload is required"},
		{"bad payload", `{"event":"send_message","data":"text"}`, "malformed event payload"},
		{"missing conversation", `{"event":"mark_read","data":{}}`, "conversationId is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user.reset()
			e.gateway.Dispatch(context.Background(), user, []byte(tc.raw))
			var ev ErrorEvent
			user.last(t, EventError, &ev)
			if ev.Message != tc.want {
				t.Fatalf("error = %q, want %q", ev.Message, tc.want)
			}
		})
	}
}

func TestGetOnlineUsers(t *testing.T) {
	e := newEnv(t, true)
	user := e.connect(alice)
	e.connect(sam)
	e.dispatch(user, EventGetOnlineUsers, nil)
	var got OnlineUsers
	user.last(t, EventOnlineUsers, &got)
	if len(got.Users) != 2 || got.Users[0] != "s1" || got.Users[1] != "u1" {
		t.Fatalf("online users = %v", got.Users)
	}
}

func TestPushAndRequestSendsMatch(t *testing.T) {
	e := newEnv(t, true)
	conv := e.start(t, alice, "Help")
	user := e.connect(alice)
	staff := e.connect(sam)
	e.join(t, user, conv.ID)
	e.join(t, staff, conv.ID)

	e.dispatch(user, EventSendMessage, map[string]string{"conversationId": conv.ID, "content": "via push"})
	var pushed NewMessageEvent
	staff.last(t, EventNewMessage, &pushed)

	res, err := e.chat.Send(context.Background(), alice, SendInput{ConversationID: conv.ID, Content: "via rest"}, PathRest, nil)
	if err != nil {
		t.Fatal(err)
	}
	var rested NewMessageEvent
	staff.last(t, EventNewMessage, &rested)

	if rested.Message.ID != res.Message.ID {
		t.Fatal("request path result does not match the emitted message")
	}
	if pushed.Message.Sender != rested.Message.Sender || pushed.Message.Type != rested.Message.Type || pushed.Message.Status != rested.Message.Status {
		t.Fatalf("paths diverge: %+v vs %+v", pushed.Message, rested.Message)
	}
	if user.count(EventMessageSent) != 1 {
		t.Fatal("message_sent is only for the push producer")
	}
	if p := participant(t, e.store, conv.ID, "s1"); p.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", p.UnreadCount)
	}
	if staff.count(EventNotification) != 2 {
		t.Fatal("both paths should notify")
	}
}

func TestServeOverWebsocket(t *testing.T) {
	e := newEnv(t, true)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		e.gateway.Serve(ws, alice)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}

	read := func(event string) realtime.Frame {
		t.Helper()
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var f realtime.Frame
			if err := client.ReadJSON(&f); err != nil {
				t.Fatalf("read %s: %v", event, err)
			}
			if f.Event == event {
				return f
			}
		}
	}

	read(EventUserOnline)
	if err := client.WriteJSON(map[string]interface{}{"event": EventGetOnlineUsers}); err != nil {
		t.Fatal(err)
	}
	var users OnlineUsers
	if err := json.Unmarshal(read(EventOnlineUsers).Data, &users); err != nil {
		t.Fatal(err)
	}
	if len(users.Users) != 1 || users.Users[0] != "u1" {
		t.Fatalf("online users = %v", users.Users)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	var ev ErrorEvent
	if err := json.Unmarshal(read(EventError).Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Message != "malformed event" {
		t.Fatalf("error = %q", ev.Message)
	}

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for e.chat.presence.Online("u1") {
		if time.Now().After(deadline) {
			t.Fatal("session was not released after the peer closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
