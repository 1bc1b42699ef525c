// Package domain contains persistence models for the usage log written
// after each admitted request.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord is the append-only fact of one completed admitted request.
// Never updated or deleted by the gateway.
type UsageRecord struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	APIKeyID       string       `gorm:"column:api_key_id;type:text;not null"`
	OrgID          string       `gorm:"column:org_id;type:text;not null"`
	ServiceID      string       `gorm:"column:service_id;type:text;not null"`
	Endpoint       string       `gorm:"type:text"`
	Method         string       `gorm:"type:text"`
	StatusCode     int          `gorm:"column:status_code"`
	ResponseTimeMS int64        `gorm:"column:response_time_ms"`
	CreditsUsed    int          `gorm:"column:credits_used;not null;default:1"`
	IPAddress      string       `gorm:"column:ip_address;type:text"`
	Country        *string      `gorm:"type:text"` // reserved for geo-ip, not populated
	UserAgent      string       `gorm:"column:user_agent;type:text"`
	Timestamp      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// ServiceDefinition maps a billing-category name to the id usage records
// reference. Rows are managed externally; read-mostly here.
type ServiceDefinition struct {
	ID              string    `gorm:"primaryKey;type:text"`
	Name            string    `gorm:"type:text;not null;uniqueIndex"`
	DisplayName     string    `gorm:"column:display_name;type:text;not null"`
	BaseCostPerCall int       `gorm:"column:base_cost_per_call;not null;default:1"`
	Category        string    `gorm:"type:text;not null;default:general"`
	IsActive        bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ServiceDefinition) TableName() string { return "services" }
