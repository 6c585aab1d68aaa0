package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/yungbote/dialbridge-backend/internal/pkg/logger"
  "github.com/yungbote/dialbridge-backend/internal/types"
)

type ContactRepo interface {
  CreateBatch(ctx context.Context, tx *gorm.DB, contacts []*types.Contact) (int, error)
  GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Contact, error)
  ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Contact, error)
}

type contactRepo struct {
  db          *gorm.DB
  log         *logger.Logger
}

func NewContactRepo(db *gorm.DB, baseLog *logger.Logger) ContactRepo {
  return &contactRepo{
    db:   db,
    log:  baseLog.With("repo", "ContactRepo"),
  }
}

func (r *contactRepo) CreateBatch(ctx context.Context, tx *gorm.DB, contacts []*types.Contact) (int, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(contacts) == 0 {
    return 0, nil
  }
  if err := transaction.WithContext(ctx).Create(&contacts).Error; err != nil {
    return 0, err
  }
  return len(contacts), nil
}

func (r *contactRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Contact, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Contact
  if len(ids) == 0 {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("id IN ?", ids).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *contactRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Contact, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Contact
  if campaignID == uuid.Nil {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("campaign_id = ?", campaignID).
    Order("created_at ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}
