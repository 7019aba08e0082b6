package store

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned by drivers when an update targets a missing record.
var ErrNotFound = errors.New("user record not found")

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// CreateUserRecord inserts create unless a record with the same identity
	// exists. It always returns the stored record.
	CreateUserRecord(ctx context.Context, create *UserRecord) (*UserRecord, error)
	// GetUserRecord returns nil, nil when the identity is unknown.
	GetUserRecord(ctx context.Context, identity string) (*UserRecord, error)
	UpdateUserRecord(ctx context.Context, update *UpdateUserRecord) (*UserRecord, error)
}
