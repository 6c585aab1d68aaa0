package app

import (
	"github.com/yungbote/dialbridge-backend/internal/middleware"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
)

type Middleware struct {
	Webhook *middleware.WebhookMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Webhook: middleware.NewWebhookMiddleware(log, cfg.WebhookSecret),
	}
}
