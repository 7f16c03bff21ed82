package identity

import (
	"context"
	"time"

	"github.com/angelmondragon/zeroproof-client/internal/repo"
	"github.com/angelmondragon/zeroproof-client/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Users persists auth_users rows.
type Users struct {
	repo.Base
}

func NewUsers(conn *gorm.DB) *Users {
	return &Users{Base: repo.NewBase(conn)}
}

func (u *Users) WithTx(tx *gorm.DB) *Users {
	return &Users{Base: u.Base.WithTx(tx)}
}

func (u *Users) Create(ctx context.Context, user *models.AuthUser) error {
	return u.DB(ctx).Create(user).Error
}

// FindByEmail expects an already normalised email.
func (u *Users) FindByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	var user models.AuthUser
	if err := u.DB(ctx).Where("email = ?", email).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *Users) FindByID(ctx context.Context, id uuid.UUID) (*models.AuthUser, error) {
	var user models.AuthUser
	if err := u.DB(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *Users) TouchSignIn(ctx context.Context, id uuid.UUID, at time.Time) error {
	return u.DB(ctx).
		Model(&models.AuthUser{}).
		Where("id = ?", id).
		UpdateColumn("last_sign_in_at", at).Error
}
