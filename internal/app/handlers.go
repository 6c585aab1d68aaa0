package app

import (
	"github.com/yungbote/dialbridge-backend/internal/handlers"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/sse"
)

type Handlers struct {
	Campaign *handlers.CampaignHandler
	Callback *handlers.CallbackHandler
	SSE      *handlers.SSEHandler
}

func wireHandlers(log *logger.Logger, services Services, clients Clients, sseHub *sse.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Campaign: handlers.NewCampaignHandler(log, services.Campaign),
		Callback: handlers.NewCallbackHandler(log, clients.StatusBus),
		SSE:      handlers.NewSSEHandler(log, sseHub),
	}
}
