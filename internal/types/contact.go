package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
)

// Contact is one imported callee. Immutable after import; owned by the ledger.
type Contact struct {
  ID              uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
  CampaignID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"campaign_id"`
  DisplayName     string            `gorm:"column:display_name;not null" json:"display_name"`
  PhoneNumber     string            `gorm:"column:phone_number;not null" json:"phone_number"`
  CustomFields    datatypes.JSON    `gorm:"type:jsonb;column:custom_fields" json:"custom_fields,omitempty"`
  CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
}

func (Contact) TableName() string {
  return "contact"
}
