// Package domain contains the prepaid balance ledgers requests are
// billed against. Wallets are provisioned and topped up externally; the
// core only performs the per-request decrement.
package domain

import "time"

// Wallet stores the credit balance for an organization. Production keys
// charge against it.
type Wallet struct {
	ID             string    `gorm:"primaryKey;type:text"`
	OrgID          string    `gorm:"column:org_id;type:text;not null;uniqueIndex"`
	Balance        int64     `gorm:"not null;default:0"`
	TotalPurchased int64     `gorm:"column:total_purchased;not null;default:0"`
	TotalUsed      int64     `gorm:"column:total_used;not null;default:0"`
	Currency       string    `gorm:"type:text;not null;default:EUR"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// TestWallet stores per-user test credits, reset monthly by an external
// process. Test-environment keys charge against it.
type TestWallet struct {
	ID        string    `gorm:"primaryKey;type:text"`
	UserID    string    `gorm:"column:user_id;type:text;not null;uniqueIndex"`
	Balance   int64     `gorm:"not null;default:100"`
	ResetAt   time.Time `gorm:"column:reset_at;not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TestWallet) TableName() string { return "test_wallets" }
