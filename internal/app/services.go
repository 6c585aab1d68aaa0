package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/domain"
	"github.com/yungbote/dialbridge-backend/internal/extraction"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/services"
	"github.com/yungbote/dialbridge-backend/internal/sse"
)

type Services struct {
	Campaign   services.CampaignService
	Callbacks  services.CallbackService
	Lifecycle  *services.CallLifecycle
	Dispatcher *services.Dispatcher
	Pipeline   *extraction.Pipeline
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients, sseHub *sse.SSEHub) Services {
	log.Info("Wiring services...")

	policy := domain.RetryPolicy{
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	lifecycle := services.NewCallLifecycle(db, log, reposet.Call, policy)
	pipeline := extraction.NewPipeline(log, clients.Generator, cfg.ExtractionParallel)

	campaign := services.NewCampaignService(db, log, sseHub, reposet.Campaign, reposet.Contact, reposet.Call, cfg.DefaultRetryCeiling)

	dispatcher := services.NewDispatcher(db, log, services.DispatcherConfig{
		Tick:              cfg.DispatchTick,
		PlaceCallTimeout:  cfg.PlaceCallTimeout,
		DispatchTimeout:   cfg.DispatchTimeout,
		CallTimeout:       cfg.CallTimeout,
		RateLimitCooldown: cfg.RateLimitCooldown,
		GlobalCallsPerSec: cfg.GlobalCallsPerSec,
		GlobalBurst:       cfg.GlobalCallsBurst,
		CallbackURL:       cfg.CallbackURL,
	}, clients.Gateway, lifecycle, campaign, reposet.Call, reposet.Campaign)

	callbacks := services.NewCallbackService(db, log, clients.StatusBus, clients.Gateway, pipeline, lifecycle, campaign, reposet.Call, reposet.CallEvent, reposet.Campaign, cfg.CallbackTimeout)

	return Services{
		Campaign:   campaign,
		Callbacks:  callbacks,
		Lifecycle:  lifecycle,
		Dispatcher: dispatcher,
		Pipeline:   pipeline,
	}
}
