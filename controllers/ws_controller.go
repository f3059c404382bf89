package controllers

import (
	"support-chat/services"
	"support-chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSController authenticates and upgrades push sessions.
type WSController struct {
	gateway  *services.Gateway
	verifier services.TokenVerifier
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSController(gateway *services.Gateway, verifier services.TokenVerifier, allowedOrigins []string, log zerolog.Logger) *WSController {
	return &WSController{
		gateway:  gateway,
		verifier: verifier,
		upgrader: newUpgrader(allowedOrigins),
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// Handle verifies the credential before upgrading; a rejected handshake
// never reaches presence.
func (h *WSController) Handle(c *gin.Context) {
	ident, err := services.Authenticate(c.Request.Context(), h.verifier, c.Request)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	h.gateway.Serve(ws, ident)
}
