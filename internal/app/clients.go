package app

import (
	"fmt"

	"github.com/yungbote/dialbridge-backend/internal/clients/openai"
	"github.com/yungbote/dialbridge-backend/internal/clients/redis"
	"github.com/yungbote/dialbridge-backend/internal/clients/twilio"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
)

type Clients struct {
	Gateway   telephony.Gateway
	StatusBus telephony.StatusBus
	Generator openai.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	gateway, err := twilio.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init twilio: %w", err)
	}

	generator, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai: %w", err)
	}

	var bus telephony.StatusBus
	switch cfg.StatusBus {
	case "redis":
		bus, err = redis.NewStatusBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis status bus: %w", err)
		}
	default:
		bus = telephony.NewMemBus(256)
	}

	return Clients{
		Gateway:   gateway,
		StatusBus: bus,
		Generator: generator,
	}, nil
}
