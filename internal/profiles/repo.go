package profiles

import (
	"context"
	"errors"

	"github.com/angelmondragon/zeroproof-client/internal/repo"
	"github.com/angelmondragon/zeroproof-client/pkg/db/models"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository reads and writes profile rows.
type Repository struct {
	repo.Base
}

// NewRepository constructs a profiles repo bound to conn.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// WithTx returns a repository running inside tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Base.WithTx(tx)}
}

// FetchRole returns the role for id. A missing row reports found=false; a
// null or unrecognised role reads as end_user.
func (r *Repository) FetchRole(ctx context.Context, id uuid.UUID) (enums.UserRole, bool, error) {
	var profile models.Profile
	err := r.DB(ctx).Select("id", "role").Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return roleOf(profile.Role), true, nil
}

// UpdateRole sets the role when the row exists. Missing rows are not an error.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role enums.UserRole) error {
	value := role.String()
	return r.DB(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Update("role", &value).Error
}

// Provision inserts the profile row for a new identity. Hints that a user may
// not pick for themselves provision end_user.
func (r *Repository) Provision(ctx context.Context, id uuid.UUID, hint enums.UserRole) (enums.UserRole, error) {
	role := hint
	if !role.SelfAssignable() {
		role = enums.UserRoleEndUser
	}
	value := role.String()
	err := r.DB(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Profile{ID: id, Role: &value}).Error
	if err != nil {
		return "", err
	}
	return role, nil
}

// ProvisionTx is Provision joined to a caller-owned transaction.
func (r *Repository) ProvisionTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, hint enums.UserRole) error {
	_, err := r.WithTx(tx).Provision(ctx, id, hint)
	return err
}

// Delete removes the profile row, leaving the identity orphaned.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).Where("id = ?", id).Delete(&models.Profile{}).Error
}

func roleOf(raw *string) enums.UserRole {
	if raw == nil {
		return enums.UserRoleEndUser
	}
	role, err := enums.ParseUserRole(*raw)
	if err != nil {
		return enums.UserRoleEndUser
	}
	return role
}
