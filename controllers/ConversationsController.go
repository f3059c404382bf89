package controllers

import (
	"errors"
	"io"
	"net/http"

	"support-chat/middlewares"
	"support-chat/models"
	"support-chat/services"
	"support-chat/store"
	"support-chat/utils"

	"github.com/gin-gonic/gin"
)

// ChatController serves the chat request endpoints.
type ChatController struct {
	chat *services.ChatService
}

func NewChatController(chat *services.ChatService) *ChatController {
	return &ChatController{chat: chat}
}

type startConversationRequest struct {
	Subject string `json:"subject"`
}

// CreateConversation starts (or returns) the caller's support conversation.
func (h *ChatController) CreateConversation(c *gin.Context) {
	caller := mustUser(c)
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(c, models.Invalidf("invalid request body"))
		return
	}
	conv, created, err := h.chat.StartConversation(c.Request.Context(), caller, req.Subject)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	data := gin.H{"conversation": conv, "created": created}
	if created {
		utils.RespondCreated(c, data)
		return
	}
	utils.RespondSuccess(c, data, nil)
}

// GetConversations lists the caller's conversations.
func (h *ChatController) GetConversations(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		return
	}
	convs, total, err := h.chat.ListConversations(c.Request.Context(), mustUser(c), opts)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	respondPage(c, convs, total, opts, h.chat.Config().ConversationPageMax)
}

// AdminGetConversations is the staff listing with search.
func (h *ChatController) AdminGetConversations(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		return
	}
	opts.Search = c.Query("search")
	convs, total, err := h.chat.ListAllConversations(c.Request.Context(), opts)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	respondPage(c, convs, total, opts, h.chat.Config().ConversationPageMax)
}

func (h *ChatController) GetConversation(c *gin.Context) {
	h.getConversation(c, false)
}

func (h *ChatController) AdminGetConversation(c *gin.Context) {
	h.getConversation(c, true)
}

func (h *ChatController) getConversation(c *gin.Context, staffAccess bool) {
	conv, err := h.chat.GetConversation(c.Request.Context(), mustUser(c), c.Param("id"), staffAccess)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, conv, nil)
}

// CloseConversation is the staff close transition.
func (h *ChatController) CloseConversation(c *gin.Context) {
	ev, err := h.chat.Close(c.Request.Context(), mustUser(c), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, ev, nil)
}

// ReopenConversation is the staff reopen transition.
func (h *ChatController) ReopenConversation(c *gin.Context) {
	ev, err := h.chat.Reopen(c.Request.Context(), mustUser(c), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, ev, nil)
}

// Stats reports the staff dashboard figures.
func (h *ChatController) Stats(c *gin.Context) {
	st, err := h.chat.Stats(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, st, nil)
}

func listOptions(c *gin.Context) (store.ListOptions, bool) {
	page, limit, err := utils.Pagination(c)
	if err != nil {
		utils.RespondError(c, err)
		return store.ListOptions{}, false
	}
	status := models.ConversationStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		utils.RespondError(c, models.Invalidf("unknown status %q", status))
		return store.ListOptions{}, false
	}
	return store.ListOptions{Page: page, Limit: limit, Status: status}, true
}

func respondPage(c *gin.Context, data interface{}, total int64, opts store.ListOptions, max int) {
	page, limit := opts.Page, opts.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > max {
		limit = max
	}
	pages := (total + int64(limit) - 1) / int64(limit)
	utils.RespondSuccess(c, data, gin.H{"pagination": gin.H{
		"page":  page,
		"limit": limit,
		"total": total,
		"pages": pages,
	}})
}

// mustUser returns the caller set by TokenAuthMiddleware. Routes using it are
// always mounted behind that middleware.
func mustUser(c *gin.Context) models.Identity {
	ident, ok := middlewares.CurrentUser(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
	}
	return ident
}
