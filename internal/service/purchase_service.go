package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"novelpay/internal/config"
	"novelpay/internal/infrastructure/lock"
	"novelpay/internal/model"
	"novelpay/internal/repository"
	"novelpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("硬币余额不足")
	ErrAlreadyOwned        = errors.New("该章节已购买，请勿重复购买")
	ErrChapterNotLocked    = errors.New("免费章节无需购买")
	ErrSelfPurchase        = errors.New("自己发布的章节无需购买")
)

type PurchaseService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	txnRepo     *repository.TransactionRepository
	accountRepo *repository.AccountRepository
	chapterRepo *repository.ChapterRepository
	outboxRepo  *repository.OutboxRepository
}

func NewPurchaseService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *PurchaseService {
	return &PurchaseService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		txnRepo:     repository.NewTransactionRepository(db),
		accountRepo: repository.NewAccountRepository(db),
		chapterRepo: repository.NewChapterRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

type PurchaseResponse struct {
	TxnNo     string `json:"txn_no"`
	ChapterID int64  `json:"chapter_id"`
	PriceXu   int64  `json:"price_xu"`
	Balance   int64  `json:"balance"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Purchase 购买章节
// 购买是站内同步交易，不走外部网关，扣币和流水在同一个事务里落库。
// 重复购买由 (user_id, chapter_id) 唯一索引兜底：两个并发请求最多
// 一个能写入成功流水，另一个撞索引后归一化为 ErrAlreadyOwned
func (s *PurchaseService) Purchase(ctx context.Context, userID, chapterID int64) (*PurchaseResponse, error) {
	chapter, novel, err := s.chapterRepo.GetWithNovel(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	if !chapter.IsLocked {
		return nil, ErrChapterNotLocked
	}
	if novel.PosterID == userID {
		return nil, ErrSelfPurchase
	}

	existing, err := s.txnRepo.GetSuccessPurchase(ctx, userID, chapterID)
	if err != nil {
		return nil, fmt.Errorf("查询购买记录失败: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyOwned
	}

	purchaseLock := lock.NewPurchaseLock(s.redisClient, userID, chapterID)
	if err := purchaseLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer purchaseLock.Unlock(ctx)

	// 拿到锁后再查一次，防止并发请求已经买过
	existing, err = s.txnRepo.GetSuccessPurchase(ctx, userID, chapterID)
	if err != nil {
		return nil, fmt.Errorf("查询购买记录失败: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyOwned
	}

	account, err := s.accountRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}
	if account.Coins < chapter.PriceXu {
		return nil, ErrInsufficientBalance
	}

	txnNo := idgen.GeneratePurchaseNo()
	balanceBefore := account.Coins
	balanceAfter := account.Coins - chapter.PriceXu

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Debit(ctx, tx, userID, chapter.PriceXu, account.Version); err != nil {
			if errors.Is(err, repository.ErrCoinsNotEnough) {
				return ErrInsufficientBalance
			}
			if errors.Is(err, repository.ErrOptimisticLock) {
				return errors.New("系统繁忙，请重试")
			}
			return fmt.Errorf("扣币失败: %w", err)
		}

		txn := &model.Transaction{
			TxnNo:         txnNo,
			UserID:        userID,
			Type:          model.TransactionTypePurchase,
			Amount:        chapter.PriceXu,
			Provider:      model.ProviderSystem,
			Status:        model.TransactionStatusSuccess,
			ChapterID:     &chapter.ID,
			NovelID:       &chapter.NovelID,
			BalanceBefore: &balanceBefore,
			BalanceAfter:  &balanceAfter,
			Remark:        fmt.Sprintf("购买章节-%s", chapter.Title),
		}
		if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
			if errors.Is(err, repository.ErrDuplicatePurchase) {
				return ErrAlreadyOwned
			}
			return fmt.Errorf("记录购买流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":      "chapter.purchased",
			"txn_no":     txnNo,
			"user_id":    userID,
			"novel_id":   chapter.NovelID,
			"chapter_id": chapter.ID,
			"price_xu":   chapter.PriceXu,
			"paid_at":    time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: txnNo,
			Topic:      s.cfg.Kafka.Topic.CoinEvent,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("章节购买成功: txnNo=%s, userID=%d, chapterID=%d, priceXu=%d", txnNo, userID, chapterID, chapter.PriceXu)

	return &PurchaseResponse{
		TxnNo:     txnNo,
		ChapterID: chapterID,
		PriceXu:   chapter.PriceXu,
		Balance:   balanceAfter,
		Status:    model.TransactionStatusSuccess,
		Message:   "购买成功",
	}, nil
}

// HasPurchased 章节解锁判断：发布者自己或已有成功购买流水
func (s *PurchaseService) HasPurchased(ctx context.Context, userID, chapterID int64) (bool, error) {
	chapter, novel, err := s.chapterRepo.GetWithNovel(ctx, chapterID)
	if err != nil {
		return false, err
	}
	if !chapter.IsLocked || novel.PosterID == userID {
		return true, nil
	}

	existing, err := s.txnRepo.GetSuccessPurchase(ctx, userID, chapterID)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}
