package services

import (
	"encoding/json"
	"time"

	"support-chat/models"
)

// SenderView is the hydrated sender carried by message events.
type SenderView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// MessageView is the new_message wire shape.
type MessageView struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversationId"`
	Sender         SenderView           `json:"sender"`
	Content        string               `json:"content"`
	Type           models.MessageType   `json:"type"`
	Status         models.MessageStatus `json:"status"`
	Metadata       json.RawMessage      `json:"metadata,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// HistoryMessageView adds the receipt state shown in message history.
type HistoryMessageView struct {
	MessageView
	ReadBy    []models.MessageRead `json:"readBy"`
	IsDeleted bool                 `json:"isDeleted"`
}

type ParticipantView struct {
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Role        string     `json:"role"`
	Avatar      string     `json:"avatar,omitempty"`
	UnreadCount int        `json:"unreadCount"`
	LastReadAt  *time.Time `json:"lastReadAt"`
	IsTyping    bool       `json:"isTyping"`
	IsOnline    bool       `json:"isOnline"`
}

type ConversationView struct {
	ID           string                    `json:"id"`
	Type         models.ConversationType   `json:"type"`
	Status       models.ConversationStatus `json:"status"`
	Subject      string                    `json:"subject"`
	Participants []ParticipantView         `json:"participants"`
	LastMessage  *models.LastMessage       `json:"lastMessage"`
	ClosedBy     *string                   `json:"closedBy"`
	ClosedAt     *time.Time                `json:"closedAt"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

// MessageSent acknowledges a send to its producer.
type MessageSent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SentAt         time.Time `json:"sentAt"`
}

// SendResult is the outcome of the send flow.
type SendResult struct {
	Ack     MessageSent `json:"ack"`
	Message MessageView `json:"message"`
}

type ReadBy struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	ReadAt   time.Time `json:"readAt"`
}

// ReadReceipt is the messages_read payload.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	ReadBy         ReadBy `json:"readBy"`
	Count          int    `json:"count"`
}

type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type NewMessageEvent struct {
	Message        MessageView `json:"message"`
	ConversationID string      `json:"conversationId"`
}

type Notification struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	Preview        string    `json:"preview"`
	SenderName     string    `json:"senderName"`
	SentAt         time.Time `json:"sentAt"`
}

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ConversationClosed struct {
	ConversationID string      `json:"conversationId"`
	ClosedBy       UserRef     `json:"closedBy"`
	ClosedAt       time.Time   `json:"closedAt"`
	SystemMessage  MessageView `json:"systemMessage"`
}

type ConversationReopened struct {
	ConversationID string      `json:"conversationId"`
	ReopenedBy     UserRef     `json:"reopenedBy"`
	SystemMessage  MessageView `json:"systemMessage"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

type OnlineUsers struct {
	Users []string `json:"users"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// Outbound event names.
const (
	EventNewMessage           = "new_message"
	EventMessageSent          = "message_sent"
	EventMessageDeleted       = "message_deleted"
	EventTypingIndicator      = "typing_indicator"
	EventMessagesRead         = "messages_read"
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventOnlineUsers          = "online_users"
	EventConversationClosed   = "conversation_closed"
	EventConversationReopened = "conversation_reopened"
	EventNewConversation      = "new_conversation"
	EventNotification         = "notification"
	EventJoinedConversation   = "joined_conversation"
	EventError                = "error"
)

func senderView(msg *models.Message, fallback models.Identity) SenderView {
	if msg.Sender != nil {
		return SenderView{ID: msg.Sender.ID, Name: msg.Sender.Username, Role: msg.Sender.Role, Avatar: msg.Sender.AvatarURL}
	}
	if fallback.UserID == msg.SenderID {
		return SenderView{ID: fallback.UserID, Name: fallback.DisplayName, Role: fallback.Role}
	}
	return SenderView{ID: msg.SenderID}
}

func toMessageView(msg *models.Message, fallback models.Identity) MessageView {
	v := MessageView{
		ID:             msg.MessageID,
		ConversationID: msg.ConversationID,
		Sender:         senderView(msg, fallback),
		Content:        msg.Content,
		Type:           msg.Type,
		Status:         msg.Status,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.Metadata) > 0 {
		v.Metadata = json.RawMessage(msg.Metadata)
	}
	return v
}

func toHistoryView(msg *models.Message) HistoryMessageView {
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []models.MessageRead{}
	}
	return HistoryMessageView{
		MessageView: toMessageView(msg, models.Identity{}),
		ReadBy:      readBy,
		IsDeleted:   msg.IsDeleted,
	}
}
