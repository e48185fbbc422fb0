package model

import (
	"time"
)

// Account 用户硬币账户表
// 记录用户的硬币（xu）余额，注册时初始化为 0
// 余额只允许两种变动：充值确认成功加币、购买章节扣币
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"` // 用户ID，业务方传入
	Coins     int64     `gorm:"not null;default:0" json:"coins"`     // 硬币余额，不允许为负
	Version   int       `gorm:"not null;default:0" json:"version"`   // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
