package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"novelpay/internal/config"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ============================================================================
// Stripe Checkout
// ============================================================================
//
// 结算结果一律以 Stripe 侧查询为准：回跳只携带 session_id，金额、
// 支付状态都从 Stripe 拉取，不信任客户端提交的任何字段。

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(cfg *config.StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" || cfg.SuccessURL == "" || cfg.CancelURL == "" {
		return nil, ErrConfigMissing
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// CreateCheckoutSession 创建托管收银台会话
// 单行 VND 商品，payment 模式，交易号放在 metadata 里随回调带回
// 注意 VND 没有辅币单位，unit_amount 直接就是整数 VND
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, amountVnd, coins int64, txnRef string) (sessionID, redirectURL string, err error) {
	if amountVnd <= 0 || txnRef == "" {
		return "", "", ErrInvalidParam
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyVND)),
					UnitAmount: stripe.Int64(amountVnd),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Nap %d xu", coins)),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("txn_no", txnRef)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("创建 Stripe 会话失败: %w", err)
	}

	return s.ID, s.URL, nil
}

// VerifySession 从 Stripe 拉取会话及其支付意向，归一化结算结果
func (g *StripeGateway) VerifySession(ctx context.Context, sessionID string) (*Result, error) {
	if sessionID == "" {
		return nil, ErrInvalidParam
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("查询 Stripe 会话失败: %w", err)
	}

	return normalizeSession(s), nil
}

// VerifyWebhook 校验回调签名并解析结算事件
// 非结算类事件返回 (nil, nil)，调用方直接应答 200 即可
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*Result, error) {
	if g.webhookSecret == "" {
		return nil, ErrConfigMissing
	}
	if len(payload) == 0 || sigHeader == "" {
		return nil, ErrInvalidParam
	}

	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
	default:
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("解析 Stripe 事件失败: %w", err)
	}

	result := normalizeSession(&sess)
	result.Code = string(event.Type)
	return result, nil
}

func normalizeSession(s *stripe.CheckoutSession) *Result {
	result := &Result{
		TxnRef:    s.Metadata["txn_no"],
		AmountVnd: s.AmountTotal,
		Code:      string(s.PaymentStatus),
	}

	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		result.Status = ResultSuccess
	case s.Status == stripe.CheckoutSessionStatusExpired:
		result.Status = ResultCanceled
	default:
		// 未知状态不加币
		result.Status = ResultFailed
	}
	return result
}
