package models

import "time"

type ConversationType string

const (
	ConversationSupport ConversationType = "support"
	ConversationAdmin   ConversationType = "admin"
	ConversationGeneral ConversationType = "general"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationSupport, ConversationAdmin, ConversationGeneral:
		return true
	}
	return false
}

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusClosed   ConversationStatus = "closed"
	StatusArchived ConversationStatus = "archived"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusArchived:
		return true
	}
	return false
}

const (
	MaxSubjectLength = 200
	MaxPreviewLength = 100
)

type Conversation struct {
	ConversationID string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Type           ConversationType   `gorm:"type:varchar(10);index" json:"type"`
	Status         ConversationStatus `gorm:"type:varchar(10);index:idx_conversations_status_updated,priority:1" json:"status"`
	Subject        string             `gorm:"type:varchar(200)" json:"subject"`
	// ActivePairKey is set while the conversation is active so two concurrent
	// starts between the same pair collide on the unique index.
	ActivePairKey *string `gorm:"type:varchar(80);uniqueIndex" json:"-"`

	LastMessageContent  string     `gorm:"type:varchar(400)" json:"-"`
	LastMessageSenderID string     `gorm:"type:varchar(36)" json:"-"`
	LastMessageAt       *time.Time `json:"-"`

	ClosedBy *string    `gorm:"type:varchar(36)" json:"closedBy"`
	ClosedAt *time.Time `json:"closedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `gorm:"index:idx_conversations_status_updated,priority:2,sort:desc" json:"updatedAt"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;references:ConversationID" json:"participants"`
}

// LastMessage is the cached projection used for listings.
type LastMessage struct {
	Content  string    `json:"content"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

func (c *Conversation) LastMessage() *LastMessage {
	if c.LastMessageAt == nil {
		return nil
	}
	return &LastMessage{Content: c.LastMessageContent, SenderID: c.LastMessageSenderID, SentAt: *c.LastMessageAt}
}

// Participant returns the entry for userID, or nil.
func (c *Conversation) Participant(userID string) *ConversationParticipant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participant(userID) != nil
}

// OtherParticipants returns every participant id except userID, in list order.
func (c *Conversation) OtherParticipants(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID != userID {
			out = append(out, p.UserID)
		}
	}
	return out
}

// RoomName is the push room of a conversation.
func RoomName(conversationID string) string {
	return "conversation:" + conversationID
}
