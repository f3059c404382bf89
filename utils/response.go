package utils

import (
	"net/http"

	"support-chat/models"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

var debug bool

// SetDebug controls whether error details are included in failure replies.
func SetDebug(on bool) { debug = on }

// RespondSuccess writes a 200 reply. meta, when non-nil, is merged next to data.
func RespondSuccess(c *gin.Context, data interface{}, meta gin.H) {
	respond(c, http.StatusOK, data, meta)
}

// RespondCreated writes a 201 reply.
func RespondCreated(c *gin.Context, data interface{}) {
	respond(c, http.StatusCreated, data, nil)
}

func respond(c *gin.Context, status int, data interface{}, meta gin.H) {
	if len(meta) == 0 {
		c.JSON(status, Response{Success: true, Data: data})
		return
	}
	body := gin.H{"success": true, "data": data}
	for k, v := range meta {
		body[k] = v
	}
	c.JSON(status, body)
}

// RespondError maps err to a status code and aborts the request.
func RespondError(c *gin.Context, err error) {
	resp := Response{Success: false, Message: models.PublicMessage(err)}
	if debug {
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(StatusFor(err), resp)
}

// StatusFor returns the HTTP status of an error kind.
func StatusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindAuthFailed:
		return http.StatusUnauthorized
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindInvalid:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
