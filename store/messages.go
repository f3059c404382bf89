package store

import (
	"context"
	"encoding/json"
	"time"

	"support-chat/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func newID() string { return uuid.New().String() }

// CreateMessageInput describes a new message row.
type CreateMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           models.MessageType
	Metadata       *models.MessageMetadata
	// InitialReadBy defaults to the sender.
	InitialReadBy []string
}

// MessageQuery pages a conversation's history.
type MessageQuery struct {
	Page   int
	Limit  int
	Before *time.Time
}

// MessagePage is one page of history in ascending createdAt order.
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	Total    int64            `json:"total"`
	HasMore  bool             `json:"hasMore"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// CreateMessage inserts the message with its initial readBy entries.
func (s *Store) CreateMessage(ctx context.Context, in CreateMessageInput) (*models.Message, error) {
	if !in.Type.Valid() {
		return nil, models.Invalidf("unknown message type %q", in.Type)
	}
	now := s.clock.Now()
	msg := models.Message{
		MessageID:      newID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		Status:         models.MessageStatusSent,
		CreatedAt:      now,
	}
	if in.Metadata != nil {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, models.Invalidf("invalid metadata")
		}
		msg.Metadata = datatypes.JSON(raw)
	}
	readers := in.InitialReadBy
	if readers == nil {
		readers = []string{in.SenderID}
	}
	seen := make(map[string]struct{}, len(readers))
	for _, uid := range readers {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		msg.ReadBy = append(msg.ReadBy, models.MessageRead{MessageID: msg.MessageID, UserID: uid, ReadAt: now})
	}

	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, wrap("create message", err)
	}
	return s.GetMessage(ctx, msg.MessageID)
}

// GetMessage loads a message with its readBy set and sender.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC").Order("user_id ASC") }).
		Preload("Sender").
		Where("message_id = ?", id).
		First(&msg).Error
	if err != nil {
		return nil, wrap("get message", err)
	}
	return &msg, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID).Count(&n).Error
	return n, wrap("count messages", err)
}

// ListMessages returns a page of history. With Before set it returns the
// newest Limit messages strictly older than Before; otherwise Page counts
// back from the newest message. Either way the page is returned ascending
// and HasMore is detected by fetching one extra row.
func (s *Store) ListMessages(ctx context.Context, conversationID string, q MessageQuery) (*MessagePage, error) {
	page, limit := clampPage(q.Page, q.Limit, s.messagePageMax)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID).Count(&total).Error; err != nil {
		return nil, wrap("count messages", err)
	}

	tx := s.db.WithContext(ctx).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC").Order("user_id ASC") }).
		Preload("Sender").
		Where("conversation_id = ?", conversationID)
	if q.Before != nil {
		tx = tx.Where("created_at < ?", q.Before.UTC())
	} else {
		tx = tx.Offset((page - 1) * limit)
	}

	var msgs []models.Message
	err := tx.Order("created_at DESC").Order("message_id DESC").Limit(limit + 1).Find(&msgs).Error
	if err != nil {
		return nil, wrap("list messages", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return &MessagePage{Messages: msgs, Total: total, HasMore: hasMore, Page: page, Limit: limit}, nil
}

// MarkMessagesAsRead appends a readBy entry for readerID to every live
// message from someone else that lacks one, and marks those messages read.
// Calling it again returns 0.
func (s *Store) MarkMessagesAsRead(ctx context.Context, conversationID, readerID string) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", conversationID, readerID, false).
			Where("message_id NOT IN (?)", tx.Model(&models.MessageRead{}).Select("message_id").Where("user_id = ?", readerID)).
			Pluck("message_id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		now := s.clock.Now()
		reads := make([]models.MessageRead, 0, len(ids))
		for _, id := range ids {
			reads = append(reads, models.MessageRead{MessageID: id, UserID: readerID, ReadAt: now})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&reads, 200)
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Model(&models.Message{}).Where("message_id IN ?", ids).
			UpdateColumn("status", models.MessageStatusRead).Error; err != nil {
			return err
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, wrap("mark messages as read", err)
	}
	return count, nil
}

// SoftDeleteMessage tombstones a message. Only its sender may do so.
// Participants who never read it get their unread counter decremented, and
// the listing preview is replaced when it was the newest message.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, models.Forbiddenf("only the sender may delete a message")
	}
	if msg.IsDeleted {
		return msg, nil
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("message_id = ? AND is_deleted = ?", messageID, false).
			UpdateColumns(map[string]interface{}{
				"is_deleted": true,
				"content":    models.DeletedMarker,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}

		if msg.Type != models.MessageSystem {
			err := tx.Model(&models.ConversationParticipant{}).
				Where("conversation_id = ? AND user_id <> ? AND unread_count > 0", msg.ConversationID, msg.SenderID).
				Where("user_id NOT IN (?)", tx.Model(&models.MessageRead{}).Select("user_id").Where("message_id = ?", messageID)).
				UpdateColumn("unread_count", gorm.Expr("unread_count - ?", 1)).Error
			if err != nil {
				return err
			}
		}

		var newer int64
		err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND created_at > ?", msg.ConversationID, msg.CreatedAt).
			Count(&newer).Error
		if err != nil || newer > 0 {
			return err
		}
		now := s.clock.Now()
		return tx.Model(&models.Conversation{}).
			Where("conversation_id = ? AND last_message_sender_id = ? AND last_message_at IS NOT NULL", msg.ConversationID, msg.SenderID).
			UpdateColumns(map[string]interface{}{
				"last_message_content": models.DeletedMarker,
				"updated_at":           now,
			}).Error
	})
	if err != nil {
		return nil, wrap("delete message", err)
	}
	return s.GetMessage(ctx, messageID)
}
