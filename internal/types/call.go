package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
)

// Call states. Transitions are validated in internal/domain; rows only ever
// move forward through the graph except the bounded failed -> queued loop.
const (
  CallStateQueued             = "queued"
  CallStateDispatching        = "dispatching"
  CallStateInProgress         = "in_progress"
  CallStateSucceeded          = "succeeded"
  CallStateFailed             = "failed"
  CallStateFailedPermanently  = "failed_permanently"
  CallStateAborted            = "aborted"
)

// FieldResult is one extracted value for one schema field.
type FieldResult struct {
  Value         *string     `json:"value"`
  Confidence    float64     `json:"confidence"`
}

// Call is the per (campaign, contact) job row. Never deleted, only
// transitioned; the current state is always addressable by id.
type Call struct {
  ID                uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
  CampaignID        uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_call_campaign_contact;index:idx_call_campaign_state" json:"campaign_id"`
  ContactID         uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_call_campaign_contact" json:"contact_id"`
  AttemptCount      int               `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
  State             string            `gorm:"column:state;not null;index:idx_call_campaign_state" json:"state"`
  ProviderCallRef   *string           `gorm:"column:provider_call_ref;index" json:"provider_call_ref,omitempty"`
  LastError         string            `gorm:"column:last_error" json:"last_error,omitempty"`
  Transcript        *string           `gorm:"column:transcript;type:text" json:"transcript,omitempty"`
  ExtractedData     datatypes.JSON    `gorm:"type:jsonb;column:extracted_data" json:"extracted_data,omitempty"`
  ScheduledAt       time.Time         `gorm:"column:scheduled_at;not null;index" json:"scheduled_at"`
  DispatchedAt      *time.Time        `gorm:"column:dispatched_at" json:"dispatched_at,omitempty"`
  TerminalAt        *time.Time        `gorm:"column:terminal_at" json:"terminal_at,omitempty"`
  CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
  UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (Call) TableName() string {
  return "call"
}
