package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrInvalidKey covers missing, unknown, inactive and expired
	// credentials alike; callers must not learn which.
	ErrInvalidKey = errors.New("invalid_api_key")

	// ErrPepperMissing means the hashing pepper is not configured.
	ErrPepperMissing = errors.New("pepper_not_configured")
)

// Resolver turns a raw presented credential into its key record.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*APIKey, error)
}

// Repository reads key records from the durable store.
type Repository interface {
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
}
