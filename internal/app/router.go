package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/dialbridge-backend/internal/server"
)

func wireRouter(cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		CampaignHandler:   handlers.Campaign,
		CallbackHandler:   handlers.Callback,
		SSEHandler:        handlers.SSE,
		WebhookMiddleware: middleware.Webhook,
		AllowOrigins:      cfg.AllowOrigins,
	})
}
