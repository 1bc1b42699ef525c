package domain

import (
	"context"
	"errors"

	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientCredits means the conditional decrement found a
	// non-positive balance.
	ErrInsufficientCredits = errors.New("insufficient_credits")

	// ErrTestKeyMisconfigured means a test-environment key has no owning
	// user to bill. Operator action is required, not a client retry.
	ErrTestKeyMisconfigured = errors.New("test_key_missing_owner")

	// ErrWalletGone means the decrement succeeded but the wallet row
	// vanished before the re-read. Indicates concurrent external
	// mutation of the ledger.
	ErrWalletGone = errors.New("wallet_missing_after_charge")
)

// Ledger charges one credit for an admitted request and reports the
// remaining balance.
type Ledger interface {
	Charge(ctx context.Context, key *apikeydomain.APIKey) (int64, error)
}

// Repository performs the ledger store operations. The decrements are
// single conditional UPDATE statements; holding the non-negative balance
// invariant under concurrency depends on that.
type Repository interface {
	DecrementOrgBalance(ctx context.Context, db *gorm.DB, orgID string) (int64, error)
	DecrementTestBalance(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	FindByOrgID(ctx context.Context, db *gorm.DB, orgID string) (*Wallet, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*TestWallet, error)
}
