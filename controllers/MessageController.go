package controllers

import (
	"support-chat/models"
	"support-chat/services"
	"support-chat/store"
	"support-chat/utils"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	Content  string                  `json:"content"`
	Type     models.MessageType      `json:"type"`
	Metadata *models.MessageMetadata `json:"metadata"`
}

func (h *ChatController) GetMessages(c *gin.Context) {
	h.getMessages(c, false)
}

func (h *ChatController) AdminGetMessages(c *gin.Context) {
	h.getMessages(c, true)
}

func (h *ChatController) getMessages(c *gin.Context, staffAccess bool) {
	page, limit, err := utils.Pagination(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	before, err := utils.Before(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	q := store.MessageQuery{Page: page, Limit: limit, Before: before}
	hist, err := h.chat.ListMessages(c.Request.Context(), mustUser(c), c.Param("id"), q, staffAccess)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, hist, nil)
}

// SendMessage is the request-path send.
func (h *ChatController) SendMessage(c *gin.Context) {
	h.sendMessage(c, services.PathRest)
}

// AdminSendMessage is the staff reply; it reopens closed conversations.
func (h *ChatController) AdminSendMessage(c *gin.Context) {
	h.sendMessage(c, services.PathStaff)
}

func (h *ChatController) sendMessage(c *gin.Context, path services.SendPath) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, models.Invalidf("invalid request body"))
		return
	}
	in := services.SendInput{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Type:           req.Type,
		Metadata:       req.Metadata,
	}
	res, err := h.chat.Send(c.Request.Context(), mustUser(c), in, path, nil)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondCreated(c, res)
}

// MarkRead is the request-path mark_read.
func (h *ChatController) MarkRead(c *gin.Context) {
	receipt, err := h.chat.MarkRead(c.Request.Context(), mustUser(c), c.Param("id"), nil)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, receipt, nil)
}

func (h *ChatController) UnreadCount(c *gin.Context) {
	n, err := h.chat.UnreadCount(c.Request.Context(), mustUser(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"unreadCount": n}, nil)
}

// DeleteMessage soft-deletes one of the caller's messages.
func (h *ChatController) DeleteMessage(c *gin.Context) {
	msg, err := h.chat.DeleteMessage(c.Request.Context(), mustUser(c), c.Param("messageId"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, msg, nil)
}
