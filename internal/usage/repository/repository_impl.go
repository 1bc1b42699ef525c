package repository

import (
	"context"

	usagedomain "github.com/rnblock/gateway/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, api_key_id, org_id, service_id, endpoint, method, status_code, response_time_ms, credits_used, ip_address, country, user_agent, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.APIKeyID,
		record.OrgID,
		record.ServiceID,
		record.Endpoint,
		record.Method,
		record.StatusCode,
		record.ResponseTimeMS,
		record.CreditsUsed,
		record.IPAddress,
		record.Country,
		record.UserAgent,
		record.Timestamp,
	).Error
}

func (r *repo) FindServiceByName(ctx context.Context, db *gorm.DB, name string) (*usagedomain.ServiceDefinition, error) {
	var svc usagedomain.ServiceDefinition
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, display_name, base_cost_per_call, category, is_active, created_at
		 FROM services WHERE name = ? LIMIT 1`,
		name,
	).Scan(&svc).Error
	if err != nil {
		return nil, err
	}
	if svc.ID == "" {
		return nil, nil
	}
	return &svc, nil
}
