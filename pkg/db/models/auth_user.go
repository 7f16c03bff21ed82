package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthUser is a credential record owned by the local identity provider.
// Anonymous users have neither email nor password hash.
type AuthUser struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email        *string    `gorm:"type:text;uniqueIndex"`
	PasswordHash *string    `gorm:"column:password_hash"`
	IsAnonymous  bool       `gorm:"column:is_anonymous;not null;default:false"`
	LastSignInAt *time.Time `gorm:"column:last_sign_in_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (AuthUser) TableName() string { return "auth_users" }

func (u *AuthUser) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
