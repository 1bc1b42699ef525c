package repository

import (
	"context"
	"time"

	walletdomain "github.com/rnblock/gateway/internal/wallet/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() walletdomain.Repository {
	return &repo{}
}

// DecrementOrgBalance spends one credit and bumps the lifetime counter in
// the same statement, only while the balance is positive. Returns rows
// affected (1 on success, 0 on insufficient balance).
func (r *repo) DecrementOrgBalance(ctx context.Context, db *gorm.DB, orgID string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance = balance - 1, total_used = total_used + 1, updated_at = ?
		 WHERE org_id = ? AND balance > 0`,
		time.Now().UTC(),
		orgID,
	)
	return res.RowsAffected, res.Error
}

// DecrementTestBalance spends one test credit while the balance is
// positive. Returns rows affected.
func (r *repo) DecrementTestBalance(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE test_wallets
		 SET balance = balance - 1
		 WHERE user_id = ? AND balance > 0`,
		userID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) FindByOrgID(ctx context.Context, db *gorm.DB, orgID string) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, balance, total_purchased, total_used, currency, created_at, updated_at
		 FROM wallets WHERE org_id = ? LIMIT 1`,
		orgID,
	).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == "" {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*walletdomain.TestWallet, error) {
	var wallet walletdomain.TestWallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, balance, reset_at, created_at
		 FROM test_wallets WHERE user_id = ? LIMIT 1`,
		userID,
	).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == "" {
		return nil, nil
	}
	return &wallet, nil
}
