package clientstore

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/zeroproof-client/internal/repo"
	"github.com/angelmondragon/zeroproof-client/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL keeps slots in the client_storage table.
type SQL struct {
	repo.Base
}

func NewSQL(conn *gorm.DB) *SQL {
	return &SQL{Base: repo.NewBase(conn)}
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	var entry models.ClientStorageEntry
	err := s.DB(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	entry := models.ClientStorageEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.DB(ctx).Where("key = ?", key).Delete(&models.ClientStorageEntry{}).Error
}
