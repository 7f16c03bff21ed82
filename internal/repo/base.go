package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the gorm-backed stores of the agent.
type Base struct {
	db *gorm.DB
}

// NewBase binds a Base to conn.
func NewBase(conn *gorm.DB) Base {
	return Base{db: conn}
}

// DB returns the connection bound to ctx when one is given.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// WithTx returns a copy of b that runs against tx, so callers can compose
// several stores inside one transaction.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}
