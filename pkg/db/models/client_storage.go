package models

import "time"

// ClientStorageEntry is one named slot of durable client storage.
type ClientStorageEntry struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ClientStorageEntry) TableName() string { return "client_storage" }
