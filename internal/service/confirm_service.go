package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"novelpay/internal/config"
	"novelpay/internal/gateway"
	"novelpay/internal/infrastructure/lock"
	"novelpay/internal/model"
	"novelpay/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 充值确认编排
// ============================================================================
//
// 同一笔充值可能被确认多次：webhook 到达的同时用户浏览器回跳也在调
// 确认接口。幂等由两层保证：
// 1. Redis 按交易号加锁，把并发确认串行化（性能优化，非正确性依赖）
// 2. 流水表条件更新（仅 PENDING 可迁移），加币和状态翻转在同一个
//    数据库事务里，锁失效时也不会重复加币

type ConfirmService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	vnpay          *gateway.VNPayGateway
	stripeVerifier gateway.SessionVerifier
	txnRepo        *repository.TransactionRepository
	accountRepo    *repository.AccountRepository
	outboxRepo     *repository.OutboxRepository
}

func NewConfirmService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config,
	vnpay *gateway.VNPayGateway, stripeVerifier gateway.SessionVerifier) *ConfirmService {
	return &ConfirmService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		vnpay:          vnpay,
		stripeVerifier: stripeVerifier,
		txnRepo:        repository.NewTransactionRepository(db),
		accountRepo:    repository.NewAccountRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

type ConfirmRequest struct {
	Provider  string            `json:"provider"`
	TxnNo     string            `json:"txn_no"`
	SessionID string            `json:"session_id,omitempty"`
	VnpParams map[string]string `json:"vnp_params,omitempty"`
}

type ConfirmResponse struct {
	TxnNo         string `json:"txn_no"`
	Status        string `json:"status"`
	CoinsCredited int64  `json:"coins_credited"`
	Balance       int64  `json:"balance"`
	Code          string `json:"code,omitempty"`    // 渠道原始返回码
	Message       string `json:"message,omitempty"`
}

// Confirm 确认一笔充值
// 终态交易直接返回已有结果；验签失败按失败交易落账而不是报错给调用方
func (s *ConfirmService) Confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error) {
	txn, err := s.txnRepo.GetByTxnNo(ctx, req.TxnNo)
	if err != nil {
		return nil, err
	}
	if txn.Type != model.TransactionTypeTopup {
		return nil, errors.New("仅充值交易支持确认")
	}
	if model.IsTerminalStatus(txn.Status) {
		return s.storedResponse(ctx, txn), nil
	}

	confirmLock := lock.NewConfirmLock(s.redisClient, txn.TxnNo)
	if err := confirmLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer confirmLock.Unlock(ctx)

	// 拿到锁后重读，webhook 可能已经处理完这笔交易
	txn, err = s.txnRepo.GetByTxnNo(ctx, req.TxnNo)
	if err != nil {
		return nil, err
	}
	if model.IsTerminalStatus(txn.Status) {
		return s.storedResponse(ctx, txn), nil
	}

	result, err := s.verify(ctx, txn, req)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			status := s.markTerminal(ctx, txn.TxnNo, model.TransactionStatusFailed)
			return &ConfirmResponse{
				TxnNo:   txn.TxnNo,
				Status:  status,
				Message: "签名校验失败",
			}, nil
		}
		return nil, err
	}

	return s.apply(ctx, txn, result)
}

// ConfirmFromWebhook webhook 入口
// 报文签名已在网关层校验过，这里只做流水核对和状态迁移
func (s *ConfirmService) ConfirmFromWebhook(ctx context.Context, result *gateway.Result) (*ConfirmResponse, error) {
	if result == nil || result.TxnRef == "" {
		return nil, gateway.ErrInvalidParam
	}

	txn, err := s.txnRepo.GetByTxnNo(ctx, result.TxnRef)
	if err != nil {
		return nil, err
	}
	if txn.Type != model.TransactionTypeTopup {
		return nil, errors.New("仅充值交易支持确认")
	}
	if model.IsTerminalStatus(txn.Status) {
		return s.storedResponse(ctx, txn), nil
	}

	confirmLock := lock.NewConfirmLock(s.redisClient, txn.TxnNo)
	if err := confirmLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer confirmLock.Unlock(ctx)

	txn, err = s.txnRepo.GetByTxnNo(ctx, result.TxnRef)
	if err != nil {
		return nil, err
	}
	if model.IsTerminalStatus(txn.Status) {
		return s.storedResponse(ctx, txn), nil
	}

	return s.apply(ctx, txn, result)
}

func (s *ConfirmService) verify(ctx context.Context, txn *model.Transaction, req *ConfirmRequest) (*gateway.Result, error) {
	switch req.Provider {
	case model.ProviderVNPay:
		if s.vnpay == nil {
			return nil, gateway.ErrConfigMissing
		}
		if len(req.VnpParams) == 0 {
			return nil, gateway.ErrInvalidParam
		}
		return s.vnpay.VerifyReturn(req.VnpParams)

	case model.ProviderStripe:
		if s.stripeVerifier == nil {
			return nil, gateway.ErrConfigMissing
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = txn.SessionID
		}
		return s.stripeVerifier.VerifySession(ctx, sessionID)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, req.Provider)
	}
}

// apply 把归一化结果套在流水上
// 渠道报成功但交易号/金额对不上账时宁可判失败，绝不加币
func (s *ConfirmService) apply(ctx context.Context, txn *model.Transaction, result *gateway.Result) (*ConfirmResponse, error) {
	switch result.Status {
	case gateway.ResultSuccess:
		if result.TxnRef != txn.TxnNo || txn.AmountVnd == nil || result.AmountVnd != *txn.AmountVnd {
			status := s.markTerminal(ctx, txn.TxnNo, model.TransactionStatusFailed)
			log.Printf("确认对账不符: txnNo=%s, refTxn=%s, refAmount=%d", txn.TxnNo, result.TxnRef, result.AmountVnd)
			return &ConfirmResponse{
				TxnNo:   txn.TxnNo,
				Status:  status,
				Code:    result.Code,
				Message: "回调金额或交易号与流水不符",
			}, nil
		}
		return s.credit(ctx, txn, result)

	case gateway.ResultCanceled:
		status := s.markTerminal(ctx, txn.TxnNo, model.TransactionStatusCanceled)
		return &ConfirmResponse{
			TxnNo:   txn.TxnNo,
			Status:  status,
			Code:    result.Code,
			Message: "用户已取消支付",
		}, nil

	default:
		status := s.markTerminal(ctx, txn.TxnNo, model.TransactionStatusFailed)
		return &ConfirmResponse{
			TxnNo:   txn.TxnNo,
			Status:  status,
			Code:    result.Code,
			Message: "支付失败",
		}, nil
	}
}

// credit 状态翻转和加币在同一个事务里，要么同时生效要么同时回滚
func (s *ConfirmService) credit(ctx context.Context, txn *model.Transaction, result *gateway.Result) (*ConfirmResponse, error) {
	account, err := s.accountRepo.GetOrCreate(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.txnRepo.MarkSuccess(ctx, tx, txn.TxnNo, account.Coins, account.Coins+txn.Amount); err != nil {
			return err
		}

		if err := s.accountRepo.Credit(ctx, tx, txn.UserID, txn.Amount); err != nil {
			return fmt.Errorf("充值到账失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":      "topup.success",
			"txn_no":     txn.TxnNo,
			"user_id":    txn.UserID,
			"coins":      txn.Amount,
			"amount_vnd": txn.AmountVnd,
			"provider":   txn.Provider,
			"paid_at":    time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: txn.TxnNo,
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
		// 条件更新没命中 PENDING 行：并发确认已经加过币，返回已有结果
		if errors.Is(err, repository.ErrStatusInvalid) {
			current, gerr := s.txnRepo.GetByTxnNo(ctx, txn.TxnNo)
			if gerr != nil {
				return nil, gerr
			}
			return s.storedResponse(ctx, current), nil
		}
		return nil, err
	}

	log.Printf("充值到账: txnNo=%s, userID=%d, coins=%d, provider=%s", txn.TxnNo, txn.UserID, txn.Amount, txn.Provider)

	return &ConfirmResponse{
		TxnNo:         txn.TxnNo,
		Status:        model.TransactionStatusSuccess,
		CoinsCredited: txn.Amount,
		Balance:       account.Coins + txn.Amount,
		Code:          result.Code,
		Message:       "充值成功",
	}, nil
}

// markTerminal 失败/取消迁移
// 迁移撞上并发（已非 PENDING）时以库里的终态为准
func (s *ConfirmService) markTerminal(ctx context.Context, txnNo, toStatus string) string {
	err := s.txnRepo.UpdateStatus(ctx, nil, txnNo, model.TransactionStatusPending, toStatus)
	if err == nil {
		return toStatus
	}
	if errors.Is(err, repository.ErrStatusInvalid) {
		if current, gerr := s.txnRepo.GetByTxnNo(ctx, txnNo); gerr == nil {
			return current.Status
		}
	}
	log.Printf("交易状态迁移失败: txnNo=%s, to=%s, err=%v", txnNo, toStatus, err)
	return toStatus
}

// storedResponse 终态交易的重复确认：返回已有结果，不再动余额
func (s *ConfirmService) storedResponse(ctx context.Context, txn *model.Transaction) *ConfirmResponse {
	resp := &ConfirmResponse{
		TxnNo:   txn.TxnNo,
		Status:  txn.Status,
		Message: "交易已处理，请勿重复确认",
	}
	if account, err := s.accountRepo.GetByUserID(ctx, txn.UserID); err == nil {
		resp.Balance = account.Coins
	}
	return resp
}
