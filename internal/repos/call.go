package repos

import (
  "context"
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "github.com/yungbote/dialbridge-backend/internal/pkg/logger"
  "github.com/yungbote/dialbridge-backend/internal/types"
)

type CallRepo interface {
  CreateBatch(ctx context.Context, tx *gorm.DB, calls []*types.Call) ([]*types.Call, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Call, error)
  GetByProviderRef(ctx context.Context, tx *gorm.DB, providerCallRef string) (*types.Call, error)
  // ClaimNextPending atomically moves up to limit due queued calls to
  // dispatching, bumping attempt_count. Safe under concurrent callers: each
  // claim is a conditional update keyed on the queued state, so no two
  // dispatchers can receive the same call.
  ClaimNextPending(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, limit int, now time.Time) ([]*types.Call, error)
  // Transition applies a single guarded state change. Returns false when the
  // call was no longer in fromState, which callers treat as "someone else
  // got there first" rather than an error.
  Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromState, toState string, updates map[string]interface{}) (bool, error)
  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
  CountByState(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (map[string]int64, error)
  ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Call, error)
  // AbortStates moves every call of the campaign currently in one of the
  // given states to aborted. Returns the number of calls swept.
  AbortStates(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, states []string) (int64, error)
  // RequeueStaleDispatching reverts dispatching rows whose pickup never
  // produced a provider response before cutoff. Keeps a crashed dispatcher
  // from leaving calls in purgatory.
  RequeueStaleDispatching(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
  ListStaleInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Call, error)
}

type callRepo struct {
  db          *gorm.DB
  log         *logger.Logger
}

func NewCallRepo(db *gorm.DB, baseLog *logger.Logger) CallRepo {
  return &callRepo{
    db:   db,
    log:  baseLog.With("repo", "CallRepo"),
  }
}

func (r *callRepo) CreateBatch(ctx context.Context, tx *gorm.DB, calls []*types.Call) ([]*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(calls) == 0 {
    return []*types.Call{}, nil
  }
  if err := transaction.WithContext(ctx).Create(&calls).Error; err != nil {
    return nil, err
  }
  return calls, nil
}

func (r *callRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var call types.Call
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&call).Error
  if err != nil {
    return nil, err
  }
  if call.ID == uuid.Nil {
    return nil, nil
  }
  return &call, nil
}

func (r *callRepo) GetByProviderRef(ctx context.Context, tx *gorm.DB, providerCallRef string) (*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if providerCallRef == "" {
    return nil, nil
  }
  var call types.Call
  err := transaction.WithContext(ctx).
    Where("provider_call_ref = ?", providerCallRef).
    Limit(1).
    Find(&call).Error
  if err != nil {
    return nil, err
  }
  if call.ID == uuid.Nil {
    return nil, nil
  }
  return &call, nil
}

func (r *callRepo) ClaimNextPending(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, limit int, now time.Time) ([]*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  claimed := []*types.Call{}
  if campaignID == uuid.Nil || limit <= 0 {
    return claimed, nil
  }

  var candidates []*types.Call
  err := transaction.WithContext(ctx).
    Where("campaign_id = ? AND state = ? AND scheduled_at <= ?", campaignID, types.CallStateQueued, now).
    Order("scheduled_at ASC, id ASC").
    Limit(limit).
    Find(&candidates).Error
  if err != nil {
    return nil, err
  }

  for _, candidate := range candidates {
    res := transaction.WithContext(ctx).
      Model(&types.Call{}).
      Where("id = ? AND state = ?", candidate.ID, types.CallStateQueued).
      Updates(map[string]interface{}{
        "state":         types.CallStateDispatching,
        "attempt_count": gorm.Expr("attempt_count + 1"),
        "dispatched_at": now,
        "updated_at":    now,
      })
    if res.Error != nil {
      return nil, res.Error
    }
    if res.RowsAffected != 1 {
      // Another dispatcher won this row.
      continue
    }
    candidate.State = types.CallStateDispatching
    candidate.AttemptCount++
    candidate.DispatchedAt = &now
    claimed = append(claimed, candidate)
  }
  return claimed, nil
}

func (r *callRepo) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromState, toState string, updates map[string]interface{}) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return false, nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  updates["state"] = toState
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  res := transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("id = ? AND state = ?", id, fromState).
    Updates(updates)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 1, nil
}

func (r *callRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  return transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("id = ?", id).
    Updates(updates).Error
}

func (r *callRepo) CountByState(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (map[string]int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  out := map[string]int64{}
  if campaignID == uuid.Nil {
    return out, nil
  }
  var rows []struct {
    State string
    N     int64
  }
  err := transaction.WithContext(ctx).
    Model(&types.Call{}).
    Select("state, COUNT(*) AS n").
    Where("campaign_id = ?", campaignID).
    Group("state").
    Find(&rows).Error
  if err != nil {
    return nil, err
  }
  for _, row := range rows {
    out[row.State] = row.N
  }
  return out, nil
}

func (r *callRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Call
  if campaignID == uuid.Nil {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("campaign_id = ?", campaignID).
    Order("scheduled_at ASC, id ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *callRepo) AbortStates(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, states []string) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if campaignID == uuid.Nil || len(states) == 0 {
    return 0, nil
  }
  now := time.Now()
  res := transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("campaign_id = ? AND state IN ?", campaignID, states).
    Updates(map[string]interface{}{
      "state":       types.CallStateAborted,
      "terminal_at": now,
      "updated_at":  now,
    })
  if res.Error != nil {
    return 0, res.Error
  }
  return res.RowsAffected, nil
}

func (r *callRepo) RequeueStaleDispatching(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  res := transaction.WithContext(ctx).
    Model(&types.Call{}).
    Where("state = ? AND dispatched_at IS NOT NULL AND dispatched_at < ?", types.CallStateDispatching, cutoff).
    Updates(map[string]interface{}{
      "state":        types.CallStateQueued,
      "scheduled_at": now,
      "updated_at":   now,
    })
  if res.Error != nil {
    return 0, res.Error
  }
  return res.RowsAffected, nil
}

func (r *callRepo) ListStaleInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Call, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Call
  if err := transaction.WithContext(ctx).
    Where("state = ? AND dispatched_at IS NOT NULL AND dispatched_at < ?", types.CallStateInProgress, cutoff).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}
