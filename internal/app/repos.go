package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/repos"
)

type Repos struct {
	Campaign  repos.CampaignRepo
	Contact   repos.ContactRepo
	Call      repos.CallRepo
	CallEvent repos.CallEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Campaign:  repos.NewCampaignRepo(db, log),
		Contact:   repos.NewContactRepo(db, log),
		Call:      repos.NewCallRepo(db, log),
		CallEvent: repos.NewCallEventRepo(db, log),
	}
}
