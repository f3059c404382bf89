package services

import (
	"context"

	"support-chat/metrics"
	"support-chat/models"
	"support-chat/realtime"
)

// Connect registers a freshly authenticated session.
func (s *ChatService) Connect(h realtime.Handle) {
	s.router.Attach(h)
	first := s.presence.Add(h)
	metrics.WSSessions.Inc()
	if first {
		metrics.OnlineUsers.Set(float64(s.presence.Count()))
		s.router.Broadcast(EventUserOnline, PresenceEvent{UserID: h.Identity().UserID})
	}
	s.log.Info().Str("user", h.Identity().UserID).Str("handle", h.ID()).Bool("first", first).Msg("session opened")
}

// Disconnect unregisters a session. Typing timers held by the user are
// cancelled and each affected room sees a final isTyping=false.
func (s *ChatService) Disconnect(h realtime.Handle) {
	ident := h.Identity()
	s.router.Detach(h)
	last := s.presence.Remove(h)
	metrics.WSSessions.Dec()

	ctx, cancel := bestEffort(context.Background())
	defer cancel()
	for _, key := range s.timers.CancelUser(ident.UserID) {
		s.emitTyping(key.ConversationID, ident, false, nil)
		s.mirrorTyping(ctx, key.ConversationID, ident.UserID, false)
	}
	if last {
		metrics.OnlineUsers.Set(float64(s.presence.Count()))
		s.router.Broadcast(EventUserOffline, PresenceEvent{UserID: ident.UserID})
	}
	s.log.Info().Str("user", ident.UserID).Str("handle", h.ID()).Bool("last", last).Msg("session closed")
}

// JoinConversation adds the session to the conversation room and marks the
// history read for the caller. Only staff may join a conversation that is not
// active.
func (s *ChatService) JoinConversation(ctx context.Context, h realtime.Handle, id string) (*ConversationView, error) {
	ident := h.Identity()
	conv, err := s.loadConversation(ctx, ident, id, false)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.StatusActive && !s.IsStaff(ident) {
		return nil, models.NotFoundf("conversation not found")
	}
	receipt, err := s.markRead(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	s.router.Join(h, models.RoomName(id))
	if receipt.Count > 0 {
		s.router.EmitToRoom(models.RoomName(id), EventMessagesRead, receipt, h)
	}
	if conv, err = s.store.GetConversation(ctx, id); err != nil {
		return nil, s.backend(err, "get conversation")
	}
	view := s.conversationView(conv)
	s.router.EmitToHandle(h, EventJoinedConversation, map[string]interface{}{
		"conversationId": id,
		"conversation":   view,
	})
	return &view, nil
}

// LeaveConversation removes the session from the room.
func (s *ChatService) LeaveConversation(ctx context.Context, h realtime.Handle, id string) {
	s.router.Leave(h, models.RoomName(id))
	s.stopTyping(ctx, id, h.Identity(), h)
}

// TypingStart announces typing to the rest of the room and (re)arms the
// expiry timer.
func (s *ChatService) TypingStart(ctx context.Context, h realtime.Handle, id string) error {
	if !s.router.InRoom(h, models.RoomName(id)) {
		return models.NotFoundf("conversation not joined")
	}
	ident := h.Identity()
	s.emitTyping(id, ident, true, h)
	s.mirrorTyping(ctx, id, ident.UserID, true)
	key := realtime.TimerKey{ConversationID: id, UserID: ident.UserID}
	s.timers.Arm(key, s.cfg.TypingTimeout, func() {
		s.emitTyping(id, ident, false, nil)
		bg, cancel := bestEffort(context.Background())
		defer cancel()
		s.mirrorTyping(bg, id, ident.UserID, false)
	})
	return nil
}

// TypingStop cancels the timer and announces the stop.
func (s *ChatService) TypingStop(ctx context.Context, h realtime.Handle, id string) error {
	if !s.router.InRoom(h, models.RoomName(id)) {
		return models.NotFoundf("conversation not joined")
	}
	ident := h.Identity()
	s.timers.Cancel(realtime.TimerKey{ConversationID: id, UserID: ident.UserID})
	s.emitTyping(id, ident, false, h)
	s.mirrorTyping(ctx, id, ident.UserID, false)
	return nil
}

// stopTyping ends any typing state the caller holds in the conversation.
func (s *ChatService) stopTyping(ctx context.Context, id string, ident models.Identity, exclude realtime.Handle) {
	pending := s.timers.Cancel(realtime.TimerKey{ConversationID: id, UserID: ident.UserID})
	s.emitTyping(id, ident, false, exclude)
	if pending {
		s.mirrorTyping(ctx, id, ident.UserID, false)
	}
}

func (s *ChatService) emitTyping(id string, ident models.Identity, typing bool, exclude realtime.Handle) {
	s.router.EmitToRoom(models.RoomName(id), EventTypingIndicator, TypingIndicator{
		ConversationID: id,
		UserID:         ident.UserID,
		UserName:       ident.DisplayName,
		IsTyping:       typing,
	}, exclude)
}

// mirrorTyping stores the flag shown in conversation views. Failures are
// only logged.
func (s *ChatService) mirrorTyping(ctx context.Context, id, userID string, typing bool) {
	if err := s.store.SetTyping(ctx, id, userID, typing); err != nil {
		s.log.Debug().Err(err).Str("conversation", id).Str("user", userID).Msg("typing mirror failed")
	}
}
