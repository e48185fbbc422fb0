package gateway

import (
	"context"
	"errors"
)

// ============================================================================
// 支付网关适配层
// ============================================================================
//
// 职责：把站内的充值意图翻译成渠道方的跳转地址，把渠道方的回跳/回调
// 报文翻译成统一的 Result。渠道方的原始错误在本层拦截收敛，不会穿透
// 到接口层。

var (
	ErrConfigMissing    = errors.New("支付网关配置缺失")
	ErrInvalidParam     = errors.New("支付参数不合法")
	ErrInvalidSignature = errors.New("支付网关签名校验失败")
)

// Result 状态归一化值
// 渠道返回码无法识别时一律判 FAILED，绝不在含糊信号上加币
const (
	ResultSuccess  = "SUCCESS"
	ResultCanceled = "CANCELED"
	ResultFailed   = "FAILED"
)

// Result 渠道回跳/回调报文的归一化结果
type Result struct {
	TxnRef    string // 渠道侧携带的交易号，须与流水表核对
	AmountVnd int64  // 渠道确认的 VND 金额
	Code      string // 渠道原始返回码，留作排查
	Status    string // SUCCESS / CANCELED / FAILED
}

// SessionVerifier Stripe 会话核验入口
// 确认服务只依赖这个接口，测试时注入假实现即可绕开外网
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (*Result, error)
}
