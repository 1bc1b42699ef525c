package domain

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// Entry carries everything the recorder needs about one completed
// request. CreditsUsed defaults to 1 when unset.
type Entry struct {
	APIKeyID       string
	OrgID          string
	Path           string
	Method         string
	StatusCode     int
	ResponseTimeMS int64
	CreditsUsed    int
	IPAddress      string
	UserAgent      string
}

// Recorder appends usage facts asynchronously. Record never blocks the
// response path and never surfaces an error; a dropped record is
// acceptable, a stalled request is not.
type Recorder interface {
	Record(entry Entry)
	Drain(ctx context.Context) error
}

// Repository writes usage rows and resolves billing categories.
type Repository interface {
	InsertRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	FindServiceByName(ctx context.Context, db *gorm.DB, name string) (*ServiceDefinition, error)
}

// DeriveCategory maps a request path to its billing-category name. Known
// routes map explicitly; otherwise /api/v1/<segment>/... yields the
// segment and anything else falls back to general.
func DeriveCategory(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/pdf"):
		return "api-pdf"
	case strings.HasPrefix(path, "/api/v1/template"):
		return "api-template"
	case strings.HasPrefix(path, "/api/v1/docling"):
		return "api-docling"
	}

	parts := strings.Split(path, "/")
	if len(parts) > 3 && parts[1] == "api" && parts[2] == "v1" && parts[3] != "" {
		return parts[3]
	}
	return "general"
}
