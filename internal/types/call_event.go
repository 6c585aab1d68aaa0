package types

import (
  "time"
  "github.com/google/uuid"
)

// CallEvent is the append-only record of every provider status callback we
// received, whether or not it changed call state. Duplicates show up here
// with Applied=false, which is what makes callback handling auditable.
type CallEvent struct {
  ID                uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
  CallID            *uuid.UUID    `gorm:"type:uuid;index" json:"call_id,omitempty"`
  ProviderCallRef   string        `gorm:"column:provider_call_ref;not null;index" json:"provider_call_ref"`
  Status            string        `gorm:"column:status;not null" json:"status"`
  Applied           bool          `gorm:"column:applied;not null" json:"applied"`
  Detail            string        `gorm:"column:detail" json:"detail,omitempty"`
  CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
}

func (CallEvent) TableName() string {
  return "call_event"
}
