package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 用于收窄同一笔交易的并发确认窗口：网关 webhook 和用户浏览器回跳
// 可能同时打到确认接口。注意锁只是减少无效竞争，确认幂等的正确性
// 由流水表的条件更新（仅 PENDING 可迁移）兜底，锁丢失不会导致重复加币。
//
// 加锁：SET key value NX EX，value 记录持有方，释放时用 Lua 校验后删除，
// 避免误删他人持有的锁。

var ErrLockFailed = errors.New("获取分布式锁失败")

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞抢锁，SetNX 保证同一时刻至多一个持有者
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式抢锁，重试耗尽返回 ErrLockFailed
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 校验持有方后删除，Lua 保证"检查+删除"原子
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewConfirmLock 按交易号维度的确认锁
// webhook 与回跳确认同一笔交易时串行化
func NewConfirmLock(client *redis.Client, txnNo string) *DistributedLock {
	key := fmt.Sprintf("topup:confirm:lock:%s", txnNo)
	return NewDistributedLock(client, key, txnNo, 30*time.Second)
}

// NewPurchaseLock 按 (用户, 章节) 维度的购买锁
func NewPurchaseLock(client *redis.Client, userID, chapterID int64) *DistributedLock {
	key := fmt.Sprintf("purchase:lock:%d:%d", userID, chapterID)
	return NewDistributedLock(client, key, fmt.Sprintf("%d-%d", userID, chapterID), 30*time.Second)
}
