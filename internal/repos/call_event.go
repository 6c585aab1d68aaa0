package repos

import (
  "context"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/yungbote/dialbridge-backend/internal/pkg/logger"
  "github.com/yungbote/dialbridge-backend/internal/types"
)

type CallEventRepo interface {
  Create(ctx context.Context, tx *gorm.DB, event *types.CallEvent) (*types.CallEvent, error)
  ListByCall(ctx context.Context, tx *gorm.DB, callID uuid.UUID) ([]*types.CallEvent, error)
}

type callEventRepo struct {
  db          *gorm.DB
  log         *logger.Logger
}

func NewCallEventRepo(db *gorm.DB, baseLog *logger.Logger) CallEventRepo {
  return &callEventRepo{
    db:   db,
    log:  baseLog.With("repo", "CallEventRepo"),
  }
}

func (r *callEventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.CallEvent) (*types.CallEvent, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if event == nil {
    return nil, nil
  }
  if err := transaction.WithContext(ctx).Create(event).Error; err != nil {
    return nil, err
  }
  return event, nil
}

func (r *callEventRepo) ListByCall(ctx context.Context, tx *gorm.DB, callID uuid.UUID) ([]*types.CallEvent, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.CallEvent
  if callID == uuid.Nil {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("call_id = ?", callID).
    Order("created_at ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}
