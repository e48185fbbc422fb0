package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"novelpay/internal/config"
	"novelpay/internal/gateway"
	"novelpay/internal/model"
	"novelpay/internal/repository"
	"novelpay/pkg/idgen"

	"gorm.io/gorm"
)

// 充值汇率：1,000 VND = 10 xu
// 提现汇率（10 xu = 800 VND）是运营侧约定，不在本服务实现
const (
	VndPerCoin = 100
	CoinsStep  = 10
)

var (
	ErrUnsupportedProvider = errors.New("不支持的支付渠道")
	ErrInvalidCoins        = errors.New("充值数量必须为10的正整数倍")
)

type TopupService struct {
	db          *gorm.DB
	cfg         *config.Config
	vnpay       *gateway.VNPayGateway
	stripe      *gateway.StripeGateway
	txnRepo     *repository.TransactionRepository
	accountRepo *repository.AccountRepository
}

// NewTopupService 网关允许为 nil（未配置的渠道），下单时返回配置缺失错误
func NewTopupService(db *gorm.DB, cfg *config.Config, vnpay *gateway.VNPayGateway, stripe *gateway.StripeGateway) *TopupService {
	return &TopupService{
		db:          db,
		cfg:         cfg,
		vnpay:       vnpay,
		stripe:      stripe,
		txnRepo:     repository.NewTransactionRepository(db),
		accountRepo: repository.NewAccountRepository(db),
	}
}

type CreateTopupRequest struct {
	UserID   int64  `json:"user_id"`
	Coins    int64  `json:"coins"`
	Provider string `json:"provider"`
}

type CreateTopupResponse struct {
	TxnNo       string `json:"txn_no"`
	RedirectURL string `json:"redirect_url"`
	Provider    string `json:"provider"`
	AmountVnd   int64  `json:"amount_vnd"`
	Coins       int64  `json:"coins"`
}

// CreateTopup 发起充值
// 先落一条 PENDING 流水再请求网关，网关侧失败时流水立即转 FAILED，
// 不会留下既无跳转地址又等待确认的悬挂记录
func (s *TopupService) CreateTopup(ctx context.Context, req *CreateTopupRequest, clientIP string) (*CreateTopupResponse, error) {
	if req.Coins <= 0 || req.Coins%CoinsStep != 0 {
		return nil, ErrInvalidCoins
	}
	if req.Provider != model.ProviderVNPay && req.Provider != model.ProviderStripe {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, req.Provider)
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	amountVnd := req.Coins * VndPerCoin
	txnNo := idgen.GenerateTopupNo()

	txn := &model.Transaction{
		TxnNo:     txnNo,
		UserID:    req.UserID,
		Type:      model.TransactionTypeTopup,
		Amount:    req.Coins,
		AmountVnd: &amountVnd,
		Provider:  req.Provider,
		Status:    model.TransactionStatusPending,
		Remark:    fmt.Sprintf("充值-%d-xu", req.Coins),
	}
	if err := s.txnRepo.Create(ctx, nil, txn); err != nil {
		return nil, fmt.Errorf("创建充值流水失败: %w", err)
	}

	redirectURL, err := s.buildRedirect(ctx, txn, clientIP)
	if err != nil {
		s.markCreateFailed(ctx, txnNo)
		return nil, err
	}

	log.Printf("充值下单: txnNo=%s, userID=%d, coins=%d, provider=%s", txnNo, req.UserID, req.Coins, req.Provider)

	return &CreateTopupResponse{
		TxnNo:       txnNo,
		RedirectURL: redirectURL,
		Provider:    req.Provider,
		AmountVnd:   amountVnd,
		Coins:       req.Coins,
	}, nil
}

func (s *TopupService) buildRedirect(ctx context.Context, txn *model.Transaction, clientIP string) (string, error) {
	switch txn.Provider {
	case model.ProviderVNPay:
		if s.vnpay == nil {
			return "", gateway.ErrConfigMissing
		}
		return s.vnpay.BuildPayURL(*txn.AmountVnd, txn.TxnNo, fmt.Sprintf("Nap %d xu", txn.Amount), clientIP)

	case model.ProviderStripe:
		if s.stripe == nil {
			return "", gateway.ErrConfigMissing
		}
		sessionID, redirectURL, err := s.stripe.CreateCheckoutSession(ctx, *txn.AmountVnd, txn.Amount, txn.TxnNo)
		if err != nil {
			return "", err
		}
		if err := s.txnRepo.UpdateSessionID(ctx, txn.TxnNo, sessionID); err != nil {
			return "", fmt.Errorf("记录会话ID失败: %w", err)
		}
		return redirectURL, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, txn.Provider)
	}
}

func (s *TopupService) markCreateFailed(ctx context.Context, txnNo string) {
	err := s.txnRepo.UpdateStatus(ctx, nil, txnNo, model.TransactionStatusPending, model.TransactionStatusFailed)
	if err != nil {
		log.Printf("标记充值失败状态失败: txnNo=%s, err=%v", txnNo, err)
	}
}
