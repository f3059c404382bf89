package routes

import (
	"support-chat/config"
	"support-chat/controllers"
	"support-chat/middlewares"
	"support-chat/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the routes are bound to.
type Deps struct {
	Config   *config.Config
	Chat     *services.ChatService
	Gateway  *services.Gateway
	Verifier services.TokenVerifier
	Log      zerolog.Logger
}

// RegisterRoutes builds the gin engine with every chat route.
func RegisterRoutes(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.Logger(d.Log), middlewares.Metrics())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	if allowsAll(d.Config.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = d.Config.AllowedOrigins
	}
	r.Use(cors.New(corsConfig))

	chat := controllers.NewChatController(d.Chat)
	ws := controllers.NewWSController(d.Gateway, d.Verifier, d.Config.AllowedOrigins, d.Log)

	r.GET("/health", chat.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.Handle)

	api := r.Group("/api")
	api.Use(middlewares.TokenAuthMiddleware(d.Verifier))
	{
		api.GET("/userinfo", chat.GetUserInfo)

		user := api.Group("/chat")
		user.POST("/conversations", chat.CreateConversation)
		user.GET("/conversations", chat.GetConversations)
		user.GET("/conversations/:id", chat.GetConversation)
		user.GET("/conversations/:id/messages", chat.GetMessages)
		user.POST("/conversations/:id/messages", chat.SendMessage)
		user.PATCH("/conversations/:id/read", chat.MarkRead)
		user.GET("/unread-count", chat.UnreadCount)
		user.GET("/online", chat.OnlineUsers)
		user.DELETE("/messages/:messageId", chat.DeleteMessage)

		admin := api.Group("/admin/chat")
		admin.Use(middlewares.RequireStaff(d.Config.Chat.StaffRoles))
		admin.GET("/conversations", chat.AdminGetConversations)
		admin.GET("/conversations/:id", chat.AdminGetConversation)
		admin.GET("/conversations/:id/messages", chat.AdminGetMessages)
		admin.POST("/conversations/:id/messages", chat.AdminSendMessage)
		admin.PATCH("/conversations/:id/close", chat.CloseConversation)
		admin.PATCH("/conversations/:id/reopen", chat.ReopenConversation)
		admin.GET("/stats", chat.Stats)
	}

	return r
}

func allowsAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
