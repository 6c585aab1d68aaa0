package repos

import (
  "context"
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/yungbote/dialbridge-backend/internal/pkg/logger"
  "github.com/yungbote/dialbridge-backend/internal/types"
)

type CampaignRepo interface {
  Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error)
  ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Campaign, error)
  // SetStatus moves a campaign from one status to another and reports whether
  // the row actually changed. Losing the race is not an error.
  SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to string) (bool, error)
}

type campaignRepo struct {
  db          *gorm.DB
  log         *logger.Logger
}

func NewCampaignRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRepo {
  return &campaignRepo{
    db:   db,
    log:  baseLog.With("repo", "CampaignRepo"),
  }
}

func (r *campaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if campaign == nil {
    return nil, nil
  }
  if err := transaction.WithContext(ctx).Create(campaign).Error; err != nil {
    return nil, err
  }
  return campaign, nil
}

func (r *campaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var campaign types.Campaign
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&campaign).Error
  if err != nil {
    return nil, err
  }
  if campaign.ID == uuid.Nil {
    return nil, nil
  }
  return &campaign, nil
}

func (r *campaignRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Campaign, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Campaign
  if err := transaction.WithContext(ctx).
    Where("status = ?", status).
    Order("created_at ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *campaignRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to string) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return false, nil
  }
  now := time.Now()
  updates := map[string]interface{}{
    "status":     to,
    "updated_at": now,
  }
  if to == types.CampaignStatusCompleted || to == types.CampaignStatusAborted {
    updates["completed_at"] = now
  }
  res := transaction.WithContext(ctx).
    Model(&types.Campaign{}).
    Where("id = ? AND status = ?", id, from).
    Updates(updates)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 1, nil
}
