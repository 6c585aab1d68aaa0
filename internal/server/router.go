package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"
  "github.com/yungbote/dialbridge-backend/internal/handlers"
  "github.com/yungbote/dialbridge-backend/internal/middleware"
)

type RouterConfig struct {
  CampaignHandler     *handlers.CampaignHandler
  CallbackHandler     *handlers.CallbackHandler
  SSEHandler          *handlers.SSEHandler
  WebhookMiddleware   *middleware.WebhookMiddleware
  AllowOrigins        []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  // Cors
  allowOrigins := cfg.AllowOrigins
  if len(allowOrigins) == 0 {
    allowOrigins = []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5174",
    }
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     allowOrigins,
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)
  router.GET("/sse/stream", cfg.SSEHandler.SSEStream)

  api := router.Group("/api")
  {
    api.POST("/campaigns", cfg.CampaignHandler.Enqueue)
    api.GET("/campaigns/:id", cfg.CampaignHandler.Snapshot)
    api.GET("/campaigns/:id/report", cfg.CampaignHandler.Report)
    api.POST("/campaigns/:id/abort", cfg.CampaignHandler.Abort)
  }

// ===============
// || Webhooks  ||
// ===============
  webhooks := router.Group("/webhooks")
  webhooks.Use(cfg.WebhookMiddleware.RequireSecret())
  webhooks.POST("/telephony/status", cfg.CallbackHandler.Status)

  return router
}
