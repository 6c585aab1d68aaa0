package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
)

const (
  CampaignStatusDraft     = "draft"
  CampaignStatusRunning   = "running"
  CampaignStatusCompleted = "completed"
  CampaignStatusAborted   = "aborted"
)

// SchemaField is one entry of a campaign's extraction schema. The schema is
// ordered and immutable for the life of the campaign.
type SchemaField struct {
  FieldName     string    `json:"field_name"`
  Description   string    `json:"description,omitempty"`
  TypeHint      string    `json:"type_hint,omitempty"`
}

type Campaign struct {
  ID                uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
  Name              string            `gorm:"column:name;not null" json:"name"`
  ScriptTemplate    string            `gorm:"column:script_template;type:text;not null" json:"script_template"`
  ExtractionSchema  datatypes.JSON    `gorm:"type:jsonb;column:extraction_schema;not null" json:"extraction_schema"`
  ConcurrencyLimit  int               `gorm:"column:concurrency_limit;not null" json:"concurrency_limit"`
  RetryCeiling      int               `gorm:"column:retry_ceiling;not null" json:"retry_ceiling"`
  Status            string            `gorm:"column:status;not null;index" json:"status"`
  CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
  UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
  CompletedAt       *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Campaign) TableName() string {
  return "campaign"
}
