package models

import (
	"time"

	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// DeletedMarker replaces the content of soft-deleted messages.
const DeletedMarker = "This message was deleted"

type Message struct {
	MessageID      string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string         `gorm:"type:varchar(36);not null;index:idx_messages_conv_created,priority:1;index:idx_messages_conv_deleted_created,priority:1" json:"conversationId"`
	SenderID       string         `gorm:"type:varchar(36);not null" json:"senderId"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Type           MessageType    `gorm:"type:varchar(10);not null;default:'text'" json:"type"`
	Status         MessageStatus  `gorm:"type:varchar(10);not null;default:'sent'" json:"status"`
	Metadata       datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	IsDeleted      bool           `gorm:"not null;default:false;index:idx_messages_conv_deleted_created,priority:2" json:"isDeleted"`
	CreatedAt      time.Time      `gorm:"autoCreateTime:false;index:idx_messages_conv_created,priority:2,sort:desc;index:idx_messages_conv_deleted_created,priority:3,sort:desc" json:"createdAt"`

	ReadBy []MessageRead `gorm:"foreignKey:MessageID;references:MessageID" json:"readBy"`
	Sender *User         `gorm:"foreignKey:SenderID;references:ID" json:"-"`
}

// MessageRead is one readBy entry; the composite key keeps it unique per user.
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;type:varchar(36)" json:"-"`
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// MessageMetadata is the optional image reference carried by image messages.
type MessageMetadata struct {
	ImageURL  string `json:"imageUrl,omitempty"`
	ThumbURL  string `json:"thumbUrl,omitempty"`
	ImageSize int64  `json:"imageSize,omitempty"`
}

// ReadByUser reports whether userID already has a readBy entry.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
