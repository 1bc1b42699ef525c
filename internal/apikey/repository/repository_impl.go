package repository

import (
	"context"

	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, key_hash, org_id, created_by, environment, is_active, expires_at, created_at, updated_at
		 FROM api_keys WHERE key_hash = ? LIMIT 1`,
		hash,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == "" {
		return nil, nil
	}
	return &key, nil
}
