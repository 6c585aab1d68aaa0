package types

import (
  "github.com/google/uuid"
  "gorm.io/gorm"
)

// ID assignment happens client-side so the same models work against postgres
// and the sqlite test databases.

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
  if c.ID == uuid.Nil {
    c.ID = uuid.New()
  }
  return nil
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
  if c.ID == uuid.Nil {
    c.ID = uuid.New()
  }
  return nil
}

func (c *Call) BeforeCreate(tx *gorm.DB) error {
  if c.ID == uuid.Nil {
    c.ID = uuid.New()
  }
  return nil
}

func (e *CallEvent) BeforeCreate(tx *gorm.DB) error {
  if e.ID == uuid.Nil {
    e.ID = uuid.New()
  }
  return nil
}
