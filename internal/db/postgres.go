package db

import (
  "fmt"
  "gorm.io/driver/postgres"
  "gorm.io/gorm"
  "github.com/yungbote/dialbridge-backend/internal/pkg/envutil"
  "github.com/yungbote/dialbridge-backend/internal/pkg/logger"
  "github.com/yungbote/dialbridge-backend/internal/types"
)

type PostgresService struct {
  db *gorm.DB
  log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
  serviceLog := log.With("service", "PostgresService")

  postgresHost := envutil.String("POSTGRES_HOST", "localhost")
  postgresPort := envutil.String("POSTGRES_PORT", "5432")
  postgresUser := envutil.String("POSTGRES_USER", "postgres")
  postgresPassword := envutil.String("POSTGRES_PASSWORD", "")
  postgresName := envutil.String("POSTGRES_NAME", "dialbridge")

  dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

  log.Info("Connecting to Postgres...")
  db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
    DisableForeignKeyConstraintWhenMigrating: true,
  })
  if err != nil {
    log.Error("Failed to connect to Postgres", "error", err)
    return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
  }

  return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
  s.log.Info("Auto migrating postgres tables...")
  if err := AutoMigrate(s.db); err != nil {
    s.log.Error("Auto migration failed for postgres tables", "error", err)
    return err
  }
  s.log.Info("Configuring foreign key relationships for postgres tables...")
  if err := s.db.Exec(`
    ALTER TABLE "call"
    ADD CONSTRAINT "fk_call_campaign_id"
    FOREIGN KEY ("campaign_id")
    REFERENCES "campaign"("id")
    ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("Failed to add fk_call_campaign_id: %w", err)
  }
  if err := s.db.Exec(`
    ALTER TABLE "contact"
    ADD CONSTRAINT "fk_contact_campaign_id"
    FOREIGN KEY ("campaign_id")
    REFERENCES "campaign"("id")
    ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("Failed to add fk_contact_campaign_id: %w", err)
  }
  return nil
}

// AutoMigrate creates the schema on any gorm dialect. Split out from
// PostgresService so sqlite test databases migrate the same tables.
func AutoMigrate(db *gorm.DB) error {
  return db.AutoMigrate(
    &types.Campaign{},
    &types.Contact{},
    &types.Call{},
    &types.CallEvent{},
  )
}

func (s *PostgresService) DB() *gorm.DB {
  return s.db
}
