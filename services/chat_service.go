package services

import (
	"context"
	"strings"
	"time"

	"support-chat/config"
	"support-chat/metrics"
	"support-chat/models"
	"support-chat/realtime"
	"support-chat/store"

	"github.com/rs/zerolog"
)

const defaultSubject = "Support request"

// ChatService owns every chat state transition. Both gateways call into it.
type ChatService struct {
	store    *store.Store
	presence *realtime.Presence
	timers   *realtime.Timers
	router   *realtime.Router
	cfg      config.ChatConfig
	log      zerolog.Logger
}

func NewChatService(st *store.Store, presence *realtime.Presence, timers *realtime.Timers, router *realtime.Router, cfg config.ChatConfig, log zerolog.Logger) *ChatService {
	return &ChatService{
		store:    st,
		presence: presence,
		timers:   timers,
		router:   router,
		cfg:      cfg,
		log:      log.With().Str("component", "chat").Logger(),
	}
}

func (s *ChatService) Config() config.ChatConfig { return s.cfg }

func (s *ChatService) Store() *store.Store { return s.store }

// IsStaff reports whether ident holds a staff role.
func (s *ChatService) IsStaff(ident models.Identity) bool { return s.cfg.IsStaff(ident.Role) }

// FindStaff picks the staff member a new support conversation is routed to.
func (s *ChatService) FindStaff(ctx context.Context, exclude string) (string, error) {
	u, err := s.store.FindStaff(ctx, s.cfg.StaffRoles, exclude)
	if err != nil {
		return "", s.backend(err, "find staff")
	}
	if u == nil {
		return "", models.Unavailablef("no staff available")
	}
	return u.ID, nil
}

// StartConversation opens (or returns) the caller's active support
// conversation with a staff member. created is false when an existing
// conversation was returned.
func (s *ChatService) StartConversation(ctx context.Context, caller models.Identity, subject string) (*ConversationView, bool, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultSubject
	}
	if len([]rune(subject)) > models.MaxSubjectLength {
		return nil, false, models.Invalidf("subject must be at most %d characters", models.MaxSubjectLength)
	}
	staffID, err := s.FindStaff(ctx, caller.UserID)
	if err != nil {
		return nil, false, err
	}
	conv, created, err := s.store.FindOrCreateConversation(ctx, caller.UserID, staffID, models.ConversationSupport, subject)
	if err != nil {
		return nil, false, s.backend(err, "start conversation")
	}

	n, err := s.store.CountMessages(ctx, conv.ConversationID)
	if err != nil {
		return nil, false, s.backend(err, "count messages")
	}
	if n == 0 {
		content := "Conversation started: " + conv.Subject
		if _, err := s.systemMessage(ctx, conv.ConversationID, caller, content); err != nil {
			return nil, false, err
		}
		if conv, err = s.store.GetConversation(ctx, conv.ConversationID); err != nil {
			return nil, false, s.backend(err, "get conversation")
		}
		view := s.conversationView(conv)
		s.router.EmitToUser(staffID, EventNewConversation, map[string]interface{}{"conversation": view})
		return &view, created, nil
	}
	view := s.conversationView(conv)
	return &view, created, nil
}

// ListConversations pages the caller's conversations.
func (s *ChatService) ListConversations(ctx context.Context, caller models.Identity, opts store.ListOptions) ([]ConversationView, int64, error) {
	opts.Limit = clampLimit(opts.Limit, s.cfg.ConversationPageMax)
	convs, total, err := s.store.ListConversationsForUser(ctx, caller.UserID, opts)
	if err != nil {
		return nil, 0, s.backend(err, "list conversations")
	}
	return s.conversationViews(convs), total, nil
}

// ListAllConversations is the staff listing.
func (s *ChatService) ListAllConversations(ctx context.Context, opts store.ListOptions) ([]ConversationView, int64, error) {
	opts.Limit = clampLimit(opts.Limit, s.cfg.ConversationPageMax)
	convs, total, err := s.store.ListAllConversations(ctx, opts)
	if err != nil {
		return nil, 0, s.backend(err, "list all conversations")
	}
	return s.conversationViews(convs), total, nil
}

// GetConversation returns a conversation. Without staffAccess the caller
// must be a participant.
func (s *ChatService) GetConversation(ctx context.Context, caller models.Identity, id string, staffAccess bool) (*ConversationView, error) {
	conv, err := s.loadConversation(ctx, caller, id, staffAccess)
	if err != nil {
		return nil, err
	}
	view := s.conversationView(conv)
	return &view, nil
}

// MessageHistory is one page of history as returned to callers.
type MessageHistory struct {
	Messages []HistoryMessageView `json:"messages"`
	Total    int64                `json:"total"`
	HasMore  bool                 `json:"hasMore"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
}

func (s *ChatService) ListMessages(ctx context.Context, caller models.Identity, id string, q store.MessageQuery, staffAccess bool) (*MessageHistory, error) {
	if _, err := s.loadConversation(ctx, caller, id, staffAccess); err != nil {
		return nil, err
	}
	q.Limit = clampLimit(q.Limit, s.cfg.MessagePageMax)
	page, err := s.store.ListMessages(ctx, id, q)
	if err != nil {
		return nil, s.backend(err, "list messages")
	}
	out := &MessageHistory{
		Messages: make([]HistoryMessageView, 0, len(page.Messages)),
		Total:    page.Total,
		HasMore:  page.HasMore,
		Page:     page.Page,
		Limit:    page.Limit,
	}
	for i := range page.Messages {
		out.Messages = append(out.Messages, toHistoryView(&page.Messages[i]))
	}
	return out, nil
}

// MarkRead records the caller's read receipts and resets their unread
// counter. origin is excluded from the messages_read emission and may be nil.
func (s *ChatService) MarkRead(ctx context.Context, caller models.Identity, id string, origin realtime.Handle) (*ReadReceipt, error) {
	conv, err := s.loadConversation(ctx, caller, id, false)
	if err != nil {
		return nil, err
	}
	receipt, err := s.markRead(ctx, caller, conv.ConversationID)
	if err != nil {
		return nil, err
	}
	s.router.EmitToRoom(models.RoomName(id), EventMessagesRead, receipt, origin)
	return receipt, nil
}

func (s *ChatService) markRead(ctx context.Context, caller models.Identity, id string) (*ReadReceipt, error) {
	count, err := s.store.MarkMessagesAsRead(ctx, id, caller.UserID)
	if err != nil {
		return nil, s.backend(err, "mark messages as read")
	}
	if err := s.store.MarkAsRead(ctx, id, caller.UserID); err != nil {
		return nil, s.backend(err, "mark as read")
	}
	return &ReadReceipt{
		ConversationID: id,
		ReadBy:         ReadBy{UserID: caller.UserID, UserName: caller.DisplayName, ReadAt: s.store.Now()},
		Count:          count,
	}, nil
}

// UnreadCount sums the caller's unread counters over active conversations.
func (s *ChatService) UnreadCount(ctx context.Context, caller models.Identity) (int64, error) {
	n, err := s.store.CountUnreadForUser(ctx, caller.UserID)
	if err != nil {
		return 0, s.backend(err, "count unread")
	}
	return n, nil
}

// Close moves an active conversation to closed on behalf of a staff member.
func (s *ChatService) Close(ctx context.Context, staff models.Identity, id string) (*ConversationClosed, error) {
	conv, err := s.store.CloseConversation(ctx, id, staff.UserID)
	if err != nil {
		return nil, s.backend(err, "close conversation")
	}
	sys, err := s.systemMessage(ctx, id, staff, "Conversation closed by "+staff.DisplayName)
	if err != nil {
		return nil, err
	}
	ev := &ConversationClosed{
		ConversationID: id,
		ClosedBy:       UserRef{ID: staff.UserID, Name: staff.DisplayName},
		ClosedAt:       *conv.ClosedAt,
		SystemMessage:  *sys,
	}
	s.router.EmitToRoom(models.RoomName(id), EventConversationClosed, ev, nil)
	s.log.Info().Str("conversation", id).Str("by", staff.UserID).Msg("conversation closed")
	return ev, nil
}

// Reopen moves a closed conversation back to active.
func (s *ChatService) Reopen(ctx context.Context, staff models.Identity, id string) (*ConversationReopened, error) {
	if _, err := s.store.ReopenConversation(ctx, id); err != nil {
		return nil, s.backend(err, "reopen conversation")
	}
	sys, err := s.systemMessage(ctx, id, staff, "Conversation reopened by "+staff.DisplayName)
	if err != nil {
		return nil, err
	}
	ev := &ConversationReopened{
		ConversationID: id,
		ReopenedBy:     UserRef{ID: staff.UserID, Name: staff.DisplayName},
		SystemMessage:  *sys,
	}
	s.router.EmitToRoom(models.RoomName(id), EventConversationReopened, ev, nil)
	s.log.Info().Str("conversation", id).Str("by", staff.UserID).Msg("conversation reopened")
	return ev, nil
}

// Stats reports the staff dashboard figures.
func (s *ChatService) Stats(ctx context.Context) (*store.ChatStats, error) {
	st, err := s.store.ChatStats(ctx, s.cfg.StatsWindowDays, s.cfg.StaffRoles)
	if err != nil {
		return nil, s.backend(err, "chat stats")
	}
	return st, nil
}

// DeleteMessage tombstones one of the caller's own messages.
func (s *ChatService) DeleteMessage(ctx context.Context, caller models.Identity, messageID string) (*HistoryMessageView, error) {
	msg, err := s.store.SoftDeleteMessage(ctx, messageID, caller.UserID)
	if err != nil {
		return nil, s.backend(err, "delete message")
	}
	s.router.EmitToRoom(models.RoomName(msg.ConversationID), EventMessageDeleted, map[string]string{
		"conversationId": msg.ConversationID,
		"messageId":      msg.MessageID,
	}, nil)
	view := toHistoryView(msg)
	return &view, nil
}

// OnlineUsers lists the users holding at least one session.
func (s *ChatService) OnlineUsers() []string { return s.presence.AllUsers() }

// systemMessage persists a system message, refreshes the listing projection
// and returns the hydrated view.
func (s *ChatService) systemMessage(ctx context.Context, conversationID string, author models.Identity, content string) (*MessageView, error) {
	msg, err := s.store.CreateMessage(ctx, store.CreateMessageInput{
		ConversationID: conversationID,
		SenderID:       author.UserID,
		Content:        content,
		Type:           models.MessageSystem,
	})
	if err != nil {
		return nil, s.backend(err, "create system message")
	}
	if err := s.store.UpdateLastMessage(ctx, conversationID, author.UserID, content); err != nil {
		s.logBackend(err, "update last message", conversationID)
	}
	view := toMessageView(msg, author)
	return &view, nil
}

// loadConversation hides conversations the caller may not see behind NotFound.
func (s *ChatService) loadConversation(ctx context.Context, caller models.Identity, id string, staffAccess bool) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, s.backend(err, "get conversation")
	}
	if !staffAccess && !conv.HasParticipant(caller.UserID) {
		return nil, models.NotFoundf("conversation not found")
	}
	return conv, nil
}

func (s *ChatService) conversationViews(convs []models.Conversation) []ConversationView {
	out := make([]ConversationView, 0, len(convs))
	for i := range convs {
		out = append(out, s.conversationView(&convs[i]))
	}
	return out
}

func (s *ChatService) conversationView(conv *models.Conversation) ConversationView {
	v := ConversationView{
		ID:           conv.ConversationID,
		Type:         conv.Type,
		Status:       conv.Status,
		Subject:      conv.Subject,
		Participants: make([]ParticipantView, 0, len(conv.Participants)),
		LastMessage:  conv.LastMessage(),
		ClosedBy:     conv.ClosedBy,
		ClosedAt:     conv.ClosedAt,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, p := range conv.Participants {
		pv := ParticipantView{
			UserID:      p.UserID,
			Name:        p.UserID,
			UnreadCount: p.UnreadCount,
			LastReadAt:  p.LastReadAt,
			IsTyping:    p.IsTyping,
			IsOnline:    s.presence.Online(p.UserID),
		}
		if p.User != nil {
			pv.Name = p.User.Username
			pv.Email = p.User.Email
			pv.Role = p.User.Role
			pv.Avatar = p.User.AvatarURL
		}
		v.Participants = append(v.Participants, pv)
	}
	return v
}

// backend logs store failures and passes every error through unchanged.
func (s *ChatService) backend(err error, op string) error {
	if models.KindOf(err) == models.KindBackend {
		s.logBackend(err, op, "")
	}
	return err
}

func (s *ChatService) logBackend(err error, op, conversationID string) {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	ev := s.log.Error().Err(err).Str("op", op)
	if conversationID != "" {
		ev = ev.Str("conversation", conversationID)
	}
	ev.Msg("store failure")
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// bestEffort bounds follow-up writes that must not fail the caller.
func bestEffort(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
}
