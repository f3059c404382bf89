package controllers

import (
	"context"
	"net/http"
	"time"

	"support-chat/models"
	"support-chat/utils"

	"github.com/gin-gonic/gin"
)

type UserInfoResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Email       string     `json:"email,omitempty"`
	Avatar      string     `json:"avatar,omitempty"`
	Role        string     `json:"role"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	IsStaff     bool       `json:"isStaff"`
}

// GetUserInfo returns the verified caller, enriched from the user table when
// a row exists.
func (h *ChatController) GetUserInfo(c *gin.Context) {
	caller := mustUser(c)
	data := UserInfoResponse{
		ID:          caller.UserID,
		Username:    caller.DisplayName,
		DisplayName: caller.DisplayName,
		Role:        caller.Role,
		IsStaff:     h.chat.IsStaff(caller),
	}
	u, err := h.chat.Store().GetUser(c.Request.Context(), caller.UserID)
	switch {
	case err == nil:
		data.Username = u.Username
		data.Email = u.Email
		data.Avatar = u.AvatarURL
		data.LastLogin = u.LastLogin
	case models.KindOf(err) != models.KindNotFound:
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, data, nil)
}

// OnlineUsers is the request-path get_online_users.
func (h *ChatController) OnlineUsers(c *gin.Context) {
	utils.RespondSuccess(c, gin.H{"users": h.chat.OnlineUsers()}, nil)
}

// Health pings the store.
func (h *ChatController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.chat.Store().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, utils.Response{Success: false, Message: "store unavailable"})
		return
	}
	utils.RespondSuccess(c, gin.H{"status": "ok"}, nil)
}
