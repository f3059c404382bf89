package services

import (
	"encoding/json"

	"support-chat/models"
)

// Inbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
	EventGetOnlineUsers    = "get_online_users"
)

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

// decodeRef reads the conversationId every room-scoped event carries.
func decodeRef(data json.RawMessage) (string, error) {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return "", err
	}
	if ref.ConversationID == "" {
		return "", models.Invalidf("conversationId is required")
	}
	return ref.ConversationID, nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return models.Invalidf("event payload is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return models.Invalidf("malformed event payload")
	}
	return nil
}
