// Package domain contains the credential records the gateway admits
// requests against. Keys are provisioned externally; this core only
// reads them.
package domain

import "time"

// Environment selects which wallet a key is billed against.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentTest       Environment = "test"
)

// APIKey stores a hashed API credential scoped to an organization.
// The raw secret is never persisted.
type APIKey struct {
	ID          string      `gorm:"primaryKey;type:text"`
	KeyHash     string      `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	OrgID       string      `gorm:"column:org_id;type:text;not null"`
	CreatedBy   *string     `gorm:"column:created_by;type:text"`
	Environment Environment `gorm:"type:text;not null;default:production"`
	IsActive    bool        `gorm:"column:is_active;not null;default:true"`
	ExpiresAt   *time.Time  `gorm:"column:expires_at"`
	CreatedAt   time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// IsTest reports whether the key bills against a per-user test wallet.
func (k *APIKey) IsTest() bool { return k.Environment == EnvironmentTest }

// Expired reports whether the key has a passed expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
