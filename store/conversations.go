package store

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"support-chat/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultConversationPageMax = 50
	DefaultMessagePageMax      = 100
)

// ListOptions filters conversation listings.
type ListOptions struct {
	Page   int
	Limit  int
	Status models.ConversationStatus
	Search string
}

// pairKey identifies the canonical pair of an active conversation.
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

func (s *Store) withParticipants(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Participants.User")
}

// CreateConversation stores a new active conversation. The first two ids
// form the canonical pair.
func (s *Store) CreateConversation(ctx context.Context, participantIDs []string, typ models.ConversationType, subject string) (*models.Conversation, error) {
	if len(participantIDs) < 2 {
		return nil, models.Invalidf("a conversation needs at least two participants")
	}
	seen := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		if id == "" {
			return nil, models.Invalidf("participant id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, models.Invalidf("participant %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	if !typ.Valid() {
		return nil, models.Invalidf("unknown conversation type %q", typ)
	}
	subject = strings.TrimSpace(subject)
	if utf8.RuneCountInString(subject) > models.MaxSubjectLength {
		return nil, models.Invalidf("subject must be at most %d characters", models.MaxSubjectLength)
	}

	now := s.clock.Now()
	key := pairKey(participantIDs[0], participantIDs[1])
	conv := models.Conversation{
		ConversationID: newID(),
		Type:           typ,
		Status:         models.StatusActive,
		Subject:        subject,
		ActivePairKey:  &key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, id := range participantIDs {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{
			ConversationID: conv.ConversationID,
			UserID:         id,
			Position:       i,
			JoinedAt:       now,
		})
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, wrap("create conversation", err)
	}
	return s.GetConversation(ctx, conv.ConversationID)
}

// FindActiveBetween returns the most recently updated active conversation
// holding both users, or nil.
func (s *Store) FindActiveBetween(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.withParticipants(ctx).
		Where("status = ?", models.StatusActive).
		Where("conversation_id IN (?)", s.db.Model(&models.ConversationParticipant{}).Select("conversation_id").Where("user_id = ?", userA)).
		Where("conversation_id IN (?)", s.db.Model(&models.ConversationParticipant{}).Select("conversation_id").Where("user_id = ?", userB)).
		Order("updated_at DESC").
		Limit(1).
		Find(&conv).Error
	if err != nil {
		return nil, wrap("find active conversation", err)
	}
	if conv.ConversationID == "" {
		return nil, nil
	}
	return &conv, nil
}

// FindOrCreateConversation returns the active conversation between the pair
// unchanged, or creates one. created reports which happened. A concurrent
// start for the same pair loses on the unique pair key and re-reads.
func (s *Store) FindOrCreateConversation(ctx context.Context, userA, userB string, typ models.ConversationType, subject string) (conv *models.Conversation, created bool, err error) {
	conv, err = s.FindActiveBetween(ctx, userA, userB)
	if err != nil || conv != nil {
		return conv, false, err
	}
	conv, err = s.CreateConversation(ctx, []string{userA, userB}, typ, subject)
	if err == nil {
		return conv, true, nil
	}
	if models.KindOf(err) != models.KindConflict {
		return nil, false, err
	}
	conv, err = s.FindActiveBetween(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, models.Conflictf("conversation start raced with a concurrent transition")
	}
	return conv, false, nil
}

// GetConversation loads a conversation with its ordered participants.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.withParticipants(ctx).Where("conversation_id = ?", id).First(&conv).Error
	if err != nil {
		return nil, wrap("get conversation", err)
	}
	return &conv, nil
}

// ListConversationsForUser pages the user's conversations newest first.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string, opts ListOptions) ([]models.Conversation, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id IN (?)", s.db.Model(&models.ConversationParticipant{}).Select("conversation_id").Where("user_id = ?", userID))
	return s.listConversations(ctx, q, opts)
}

// ListAllConversations is the staff listing. Search matches the subject or
// any participant's name or email, case-insensitively.
func (s *Store) ListAllConversations(ctx context.Context, opts ListOptions) ([]models.Conversation, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	if search := strings.TrimSpace(opts.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		matching := s.db.Table("conversation_participants AS cp").
			Select("cp.conversation_id").
			Joins("JOIN users u ON u.id = cp.user_id").
			Where("LOWER(u.username) LIKE ? OR LOWER(u.email) LIKE ?", like, like)
		q = q.Where("LOWER(subject) LIKE ? OR conversation_id IN (?)", like, matching)
	}
	return s.listConversations(ctx, q, opts)
}

func (s *Store) listConversations(ctx context.Context, q *gorm.DB, opts ListOptions) ([]models.Conversation, int64, error) {
	page, limit := clampPage(opts.Page, opts.Limit, s.conversationPageMax)
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, 0, models.Invalidf("unknown status %q", opts.Status)
		}
		q = q.Where("status = ?", opts.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrap("count conversations", err)
	}

	var ids []string
	err := q.Order("updated_at DESC").Order("conversation_id ASC").
		Offset((page-1)*limit).Limit(limit).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, 0, wrap("list conversations", err)
	}
	if len(ids) == 0 {
		return []models.Conversation{}, total, nil
	}

	var convs []models.Conversation
	if err := s.withParticipants(ctx).Where("conversation_id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, 0, wrap("list conversations", err)
	}
	byID := make(map[string]models.Conversation, len(convs))
	for _, c := range convs {
		byID[c.ConversationID] = c
	}
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, total, nil
}

// AppendParticipant adds userID at the end of the participant list. It is a
// no-op when the user is already present.
func (s *Store) AppendParticipant(ctx context.Context, conversationID, userID string) error {
	return wrap("append participant", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Select("conversation_id").Where("conversation_id = ?", conversationID).First(&conv).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.ConversationParticipant{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		now := s.clock.Now()
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ConversationParticipant{
			ConversationID: conversationID,
			UserID:         userID,
			Position:       int(count),
			JoinedAt:       now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.Conversation{}).Where("conversation_id = ?", conversationID).
			UpdateColumn("updated_at", now).Error
	}))
}

// UpdateLastMessage refreshes the listing projection and bumps updatedAt.
func (s *Store) UpdateLastMessage(ctx context.Context, conversationID, senderID, preview string) error {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		UpdateColumns(map[string]interface{}{
			"last_message_content":   truncateRunes(preview, models.MaxPreviewLength),
			"last_message_sender_id": senderID,
			"last_message_at":        now,
			"updated_at":             now,
		})
	if res.Error != nil {
		return wrap("update last message", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NotFoundf("conversation not found")
	}
	return nil
}

// IncrementUnread adds one to the participant's unread counter. Unknown
// participants are ignored.
func (s *Store) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	return wrap("increment unread", s.updateParticipant(ctx, conversationID, userID, map[string]interface{}{
		"unread_count": gorm.Expr("unread_count + ?", 1),
	}))
}

// MarkAsRead zeroes the participant's unread counter.
func (s *Store) MarkAsRead(ctx context.Context, conversationID, userID string) error {
	return wrap("mark as read", s.updateParticipant(ctx, conversationID, userID, map[string]interface{}{
		"unread_count": 0,
		"last_read_at": s.clock.Now(),
	}))
}

// SetTyping mirrors the transient typing flag.
func (s *Store) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	return wrap("set typing", s.updateParticipant(ctx, conversationID, userID, map[string]interface{}{
		"is_typing": typing,
	}))
}

// updateParticipant applies cols to one participant row and bumps the
// conversation's updatedAt when the row exists.
func (s *Store) updateParticipant(ctx context.Context, conversationID, userID string, cols map[string]interface{}) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			UpdateColumns(cols)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return touch(tx, conversationID, s.clock.Now())
	})
}

func touch(tx *gorm.DB, conversationID string, now time.Time) error {
	return tx.Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		UpdateColumn("updated_at", now).Error
}

// CloseConversation moves an active conversation to closed.
func (s *Store) CloseConversation(ctx context.Context, id, closedBy string) (*models.Conversation, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ? AND status = ?", id, models.StatusActive).
		UpdateColumns(map[string]interface{}{
			"status":          models.StatusClosed,
			"closed_by":       closedBy,
			"closed_at":       now,
			"active_pair_key": nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, wrap("close conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.transitionMiss(ctx, id, "conversation is not active")
	}
	return s.GetConversation(ctx, id)
}

// ReopenConversation moves a closed conversation back to active and clears
// closedBy/closedAt. It conflicts when the pair already has another active
// conversation.
func (s *Store) ReopenConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.StatusClosed {
		return nil, models.Conflictf("conversation is not closed")
	}
	key := pairKey(conv.Participants[0].UserID, conv.Participants[1].UserID)
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ? AND status = ?", id, models.StatusClosed).
		UpdateColumns(map[string]interface{}{
			"status":          models.StatusActive,
			"closed_by":       nil,
			"closed_at":       nil,
			"active_pair_key": key,
			"updated_at":      s.clock.Now(),
		})
	if res.Error != nil {
		err := wrap("reopen conversation", res.Error)
		if models.KindOf(err) == models.KindConflict {
			return nil, models.Conflictf("the participants already have an active conversation")
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, s.transitionMiss(ctx, id, "conversation is not closed")
	}
	return s.GetConversation(ctx, id)
}

func (s *Store) transitionMiss(ctx context.Context, id, reason string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("conversation_id = ?", id).Count(&count).Error; err != nil {
		return wrap("load conversation", err)
	}
	if count == 0 {
		return models.NotFoundf("conversation not found")
	}
	return models.Conflictf("%s", reason)
}

// CountUnreadForUser sums the user's unread counters over active conversations.
func (s *Store) CountUnreadForUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Select("COALESCE(SUM(conversation_participants.unread_count), 0)").
		Joins("JOIN conversations ON conversations.conversation_id = conversation_participants.conversation_id").
		Where("conversation_participants.user_id = ? AND conversations.status = ?", userID, models.StatusActive).
		Scan(&total).Error
	if err != nil {
		return 0, wrap("count unread", err)
	}
	return total, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
