package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"support-chat/metrics"
	"support-chat/models"
	"support-chat/realtime"
	"support-chat/store"
)

// SendPath names the gateway a message arrived on.
type SendPath string

const (
	PathPush  SendPath = "push"
	PathRest  SendPath = "rest"
	PathStaff SendPath = "staff"
)

const notificationPreviewLength = 80

// SendInput is a message as submitted by a caller.
type SendInput struct {
	ConversationID string                  `json:"conversationId"`
	Content        string                  `json:"content"`
	Type           models.MessageType      `json:"type"`
	Metadata       *models.MessageMetadata `json:"metadata"`
}

// Send runs the message send flow shared by every gateway. origin is the
// producing session on the push path and nil otherwise. Staff callers on the
// staff path, and staff sessions on the push path, reopen a closed
// conversation and join it as a participant before the message is written.
func (s *ChatService) Send(ctx context.Context, caller models.Identity, in SendInput, path SendPath, origin realtime.Handle) (*SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, models.Invalidf("message content is required")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return nil, models.Invalidf("message content must be at most %d characters", s.cfg.MaxMessageLength)
	}
	typ := in.Type
	if typ == "" {
		typ = models.MessageText
	}
	if typ != models.MessageText && typ != models.MessageImage {
		return nil, models.Invalidf("unknown message type %q", typ)
	}
	if in.ConversationID == "" {
		return nil, models.Invalidf("conversationId is required")
	}

	staffReply := path == PathStaff || (path == PathPush && s.IsStaff(caller))
	conv, err := s.prepareSend(ctx, caller, in.ConversationID, staffReply)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, store.CreateMessageInput{
		ConversationID: conv.ConversationID,
		SenderID:       caller.UserID,
		Content:        content,
		Type:           typ,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return nil, s.backend(err, "create message")
	}
	metrics.MessagesSent.WithLabelValues(string(path)).Inc()

	bg, cancel := bestEffort(ctx)
	defer cancel()
	if err := s.store.UpdateLastMessage(bg, conv.ConversationID, caller.UserID, content); err != nil {
		s.logBackend(err, "update last message", conv.ConversationID)
	}
	others := conv.OtherParticipants(caller.UserID)
	for _, uid := range others {
		if err := s.store.IncrementUnread(bg, conv.ConversationID, uid); err != nil {
			s.logBackend(err, "increment unread", conv.ConversationID)
		}
	}

	room := models.RoomName(conv.ConversationID)
	s.stopTyping(bg, conv.ConversationID, caller, origin)

	view := toMessageView(msg, caller)
	s.router.EmitToRoom(room, EventNewMessage, NewMessageEvent{Message: view, ConversationID: conv.ConversationID}, nil)

	ack := MessageSent{MessageID: msg.MessageID, ConversationID: conv.ConversationID, SentAt: msg.CreatedAt}
	if origin != nil {
		s.router.EmitToHandle(origin, EventMessageSent, ack)
	}

	note := Notification{
		Type:           EventNewMessage,
		ConversationID: conv.ConversationID,
		Preview:        truncate(content, notificationPreviewLength),
		SenderName:     caller.DisplayName,
		SentAt:         msg.CreatedAt,
	}
	for _, uid := range others {
		s.router.EmitToUser(uid, EventNotification, note)
	}
	return &SendResult{Ack: ack, Message: view}, nil
}

// prepareSend loads the target conversation and applies the path rules.
func (s *ChatService) prepareSend(ctx context.Context, caller models.Identity, id string, staffReply bool) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, s.backend(err, "get conversation")
	}
	if !staffReply {
		if !conv.HasParticipant(caller.UserID) || conv.Status != models.StatusActive {
			return nil, models.NotFoundf("conversation not found")
		}
		return conv, nil
	}

	changed := false
	if conv.Status == models.StatusClosed {
		if _, err := s.Reopen(ctx, caller, id); err != nil {
			return nil, err
		}
		changed = true
	} else if conv.Status != models.StatusActive {
		return nil, models.Conflictf("conversation is %s", conv.Status)
	}
	if !conv.HasParticipant(caller.UserID) {
		if err := s.store.AppendParticipant(ctx, id, caller.UserID); err != nil {
			return nil, s.backend(err, "append participant")
		}
		changed = true
	}
	if !changed {
		return conv, nil
	}
	conv, err = s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, s.backend(err, "get conversation")
	}
	return conv, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
