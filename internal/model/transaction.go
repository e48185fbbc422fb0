package model

import (
	"time"
)

// ============================================================================
// 交易类型 / 渠道 / 状态常量
// ============================================================================

const (
	TransactionTypeTopup    = "TOPUP"    // 充值（法币换硬币）
	TransactionTypePurchase = "PURCHASE" // 购买章节（硬币消费）
)

const (
	ProviderStripe = "STRIPE" // Stripe Checkout
	ProviderVNPay  = "VNPAY"  // VNPAY 跳转支付
	ProviderSystem = "SYSTEM" // 站内交易（章节购买）
)

const (
	TransactionStatusPending  = "PENDING"
	TransactionStatusSuccess  = "SUCCESS"
	TransactionStatusFailed   = "FAILED"
	TransactionStatusCanceled = "CANCELED"
)

// ValidStatusTransitions 交易状态机
// PENDING 是唯一的非终态，进入终态后不允许再变更
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending: {
		TransactionStatusSuccess,
		TransactionStatusFailed,
		TransactionStatusCanceled,
	},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 终态判断，终态交易的确认请求直接返回已有结果
func IsTerminalStatus(status string) bool {
	return status == TransactionStatusSuccess ||
		status == TransactionStatusFailed ||
		status == TransactionStatusCanceled
}

// ============================================================================
// 交易流水实体
// ============================================================================

// Transaction 交易流水表
// 每一次充值/购买尝试都会落一条记录，是对账和幂等的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不删除 —— 状态只沿状态机单向推进
// 2. 一笔成功的充值流水对应且只对应一次加币（幂等确认）
// 3. 购买类流水通过 (user_id, chapter_id) 唯一索引防止重复扣费
type Transaction struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TxnNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"txn_no"`       // 交易号（网关侧订单引用）
	UserID        int64      `gorm:"index;uniqueIndex:uk_user_chapter;not null" json:"user_id"` // 发起用户
	Type          string     `gorm:"type:varchar(20);not null" json:"type"`                     // TOPUP / PURCHASE
	Amount        int64      `gorm:"not null" json:"amount"`                                    // 硬币数量
	AmountVnd     *int64     `json:"amount_vnd"`                                                // VND 金额，购买类为空
	Provider      string     `gorm:"type:varchar(20);not null" json:"provider"`                 // STRIPE / VNPAY / SYSTEM
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`             // 状态机见上
	SessionID     string     `gorm:"type:varchar(128)" json:"session_id,omitempty"`             // Stripe Checkout Session ID
	ChapterID     *int64     `gorm:"uniqueIndex:uk_user_chapter" json:"chapter_id,omitempty"`   // 购买目标章节
	NovelID       *int64     `json:"novel_id,omitempty"`                                        // 章节所属小说
	BalanceBefore *int64     `json:"balance_before,omitempty"`                                  // 余额变动前（变动时填写）
	BalanceAfter  *int64     `json:"balance_after,omitempty"`                                   // 余额变动后
	Remark        string     `gorm:"type:varchar(256)" json:"remark"`                           // 备注
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`                                    // 进入终态的时间
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "coin_transaction"
}
