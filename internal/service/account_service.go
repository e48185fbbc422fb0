package service

import (
	"context"
	"errors"

	"novelpay/internal/model"
	"novelpay/internal/repository"

	"gorm.io/gorm"
)

type AccountService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	txnRepo     *repository.TransactionRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
	}
}

func (s *AccountService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Coins, nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, userID)
}

// ListTransactions 用户流水分页
func (s *AccountService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.txnRepo.ListByUserID(ctx, userID, page, pageSize)
}
