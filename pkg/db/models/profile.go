package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile holds the marketplace role of an identity. ID equals the auth user id.
type Profile struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role      *string   `gorm:"column:role"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Profile) TableName() string { return "profiles" }
