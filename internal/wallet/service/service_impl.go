package service

import (
	"context"

	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	walletdomain "github.com/rnblock/gateway/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo walletdomain.Repository
}

// Service charges one credit per admitted request against the wallet the
// key's billing environment selects. The decrement and the re-read run
// in one transaction, so a cancelled request leaves no partial charge.
type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo walletdomain.Repository
}

func NewLedger(p ServiceParam) walletdomain.Ledger {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("wallet.ledger"),
		repo: p.Repo,
	}
}

func (s *Service) Charge(ctx context.Context, key *apikeydomain.APIKey) (int64, error) {
	var remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if key.IsTest() {
			remaining, err = s.chargeTestWallet(ctx, tx, key)
		} else {
			remaining, err = s.chargeOrgWallet(ctx, tx, key)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (s *Service) chargeOrgWallet(ctx context.Context, tx *gorm.DB, key *apikeydomain.APIKey) (int64, error) {
	rows, err := s.repo.DecrementOrgBalance(ctx, tx, key.OrgID)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		s.log.Warn("insufficient credits", zap.String("org_id", key.OrgID))
		return 0, walletdomain.ErrInsufficientCredits
	}

	wallet, err := s.repo.FindByOrgID(ctx, tx, key.OrgID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		s.log.Error("wallet missing after charge", zap.String("org_id", key.OrgID))
		return 0, walletdomain.ErrWalletGone
	}
	return wallet.Balance, nil
}

func (s *Service) chargeTestWallet(ctx context.Context, tx *gorm.DB, key *apikeydomain.APIKey) (int64, error) {
	if key.CreatedBy == nil || *key.CreatedBy == "" {
		s.log.Error("test api key has no owning user", zap.String("api_key_id", key.ID))
		return 0, walletdomain.ErrTestKeyMisconfigured
	}
	userID := *key.CreatedBy

	rows, err := s.repo.DecrementTestBalance(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		s.log.Warn("insufficient test credits", zap.String("user_id", userID))
		return 0, walletdomain.ErrInsufficientCredits
	}

	wallet, err := s.repo.FindByUserID(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		s.log.Error("test wallet missing after charge", zap.String("user_id", userID))
		return 0, walletdomain.ErrWalletGone
	}
	return wallet.Balance, nil
}
