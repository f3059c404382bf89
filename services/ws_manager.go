package services

import (
	"context"
	"encoding/json"
	"time"

	"support-chat/config"
	"support-chat/models"
	"support-chat/realtime"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const eventTimeout = 10 * time.Second

type eventHandler func(ctx context.Context, c realtime.Handle, data json.RawMessage) error

// Gateway runs authenticated websocket sessions and dispatches their
// inbound events to the chat service.
type Gateway struct {
	chat     *ChatService
	cfg      config.WSConfig
	handlers map[string]eventHandler
	log      zerolog.Logger
}

func NewGateway(chat *ChatService, cfg config.WSConfig, log zerolog.Logger) *Gateway {
	g := &Gateway{
		chat: chat,
		cfg:  cfg,
		log:  log.With().Str("component", "gateway").Logger(),
	}
	g.handlers = map[string]eventHandler{
		EventJoinConversation:  g.joinConversation,
		EventLeaveConversation: g.leaveConversation,
		EventSendMessage:       g.sendMessage,
		EventTypingStart:       g.typingStart,
		EventTypingStop:        g.typingStop,
		EventMarkRead:          g.markRead,
		EventGetOnlineUsers:    g.onlineUsers,
	}
	return g
}

// Serve owns ws until the peer goes away. ident must already be verified.
func (g *Gateway) Serve(ws *websocket.Conn, ident models.Identity) {
	conn := realtime.NewConnection(ident, ws)
	conn.Start(g.cfg.PingInterval)
	g.chat.Connect(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close(websocket.CloseNormalClosure, "")
		g.chat.Disconnect(conn)
	}()

	ws.SetReadLimit(g.cfg.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PingTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.cfg.PingTimeout))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug().Err(err).Str("handle", conn.ID()).Msg("session read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PingTimeout))
		g.Dispatch(ctx, conn, data)
	}
}

// Dispatch handles one inbound frame. Failures are reported to the
// originating session as an error event.
func (g *Gateway) Dispatch(ctx context.Context, c realtime.Handle, raw []byte) {
	var frame realtime.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.fail(c, "", models.Invalidf("malformed event"))
		return
	}
	handler, ok := g.handlers[frame.Event]
	if !ok {
		g.fail(c, frame.Event, models.Invalidf("unknown event %q", frame.Event))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	if err := handler(ctx, c, frame.Data); err != nil {
		g.fail(c, frame.Event, err)
	}
}

func (g *Gateway) fail(c realtime.Handle, event string, err error) {
	if models.KindOf(err) == models.KindBackend {
		g.log.Error().Err(err).Str("event", event).Str("user", c.Identity().UserID).Msg("event failed")
	}
	g.chat.router.EmitToHandle(c, EventError, ErrorEvent{Message: models.PublicMessage(err)})
}

func (g *Gateway) joinConversation(ctx context.Context, c realtime.Handle, data json.RawMessage) error {
	id, err := decodeRef(data)
	if err != nil {
		return err
	}
	_, err = g.chat.JoinConversation(ctx, c, id)
	return err
}

func (g *Gateway) leaveConversation(ctx context.Context, c realtime.Handle, data json.RawMessage) error {
	id, err := decodeRef(data)
	if err != nil {
		return err
	}
	g.chat.LeaveConversation(ctx, c, id)
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, c realtime.Handle, data json.RawMessage) error {
	var in SendInput
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := g.chat.Send(ctx, c.Identity(), in, PathPush, c)
	return err
}

func (g *Gateway) typingStart(ctx context.Context, c realtime.Handle, data json.RawMessage) error {
	id, err := decodeRef(data)
	if err != nil {
		return err
	}
	return g.chat.TypingStart(ctx, c, id)
}

func (g *Gateway) typingStop(ctx context.Context, c realtime.Handle, data json.RawMessage) error {
	id, err := decodeRef(data)
	if err != nil {
		return err
	}
	return g.chat.TypingStop(ctx, c, id)
}

func (g *Gateway) markRead(ctx context.Context, c realtime.Handle, data json.RawMessage) error {
	id, err := decodeRef(data)
	if err != nil {
		return err
	}
	_, err = g.chat.MarkRead(ctx, c.Identity(), id, c)
	return err
}

func (g *Gateway) onlineUsers(_ context.Context, c realtime.Handle, _ json.RawMessage) error {
	g.chat.router.EmitToHandle(c, EventOnlineUsers, OnlineUsers{Users: g.chat.OnlineUsers()})
	return nil
}
