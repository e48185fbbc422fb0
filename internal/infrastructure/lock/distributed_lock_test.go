package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTryLock_Exclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewDistributedLock(client, "test:lock", "holder-1", 30*time.Second)
	l2 := NewDistributedLock(client, "test:lock", "holder-2", 30*time.Second)

	ok, err := l1.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("首次加锁失败: ok=%v err=%v", ok, err)
	}

	ok, err = l2.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		t.Fatal("锁被持有时不应再被抢到")
	}

	if err := l1.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	ok, err = l2.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("释放后加锁失败: ok=%v err=%v", ok, err)
	}
}

func TestUnlock_OnlyHolder(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewDistributedLock(client, "test:lock", "holder-1", 30*time.Second)
	l2 := NewDistributedLock(client, "test:lock", "holder-2", 30*time.Second)

	if ok, err := l1.TryLock(ctx); err != nil || !ok {
		t.Fatalf("加锁失败: ok=%v err=%v", ok, err)
	}

	// 非持有方释放是空操作
	if err := l2.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	if ok, _ := l2.TryLock(ctx); ok {
		t.Fatal("非持有方释放后锁不应丢失")
	}
}

func TestLock_RetryExhausted(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewConfirmLock(client, "TOP001")
	if ok, err := l1.TryLock(ctx); err != nil || !ok {
		t.Fatalf("加锁失败: ok=%v err=%v", ok, err)
	}

	l2 := NewConfirmLock(client, "TOP001")
	err := l2.Lock(ctx, time.Millisecond, 3)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("want ErrLockFailed, got %v", err)
	}

	// 不同交易号互不影响
	l3 := NewConfirmLock(client, "TOP002")
	if err := l3.Lock(ctx, time.Millisecond, 3); err != nil {
		t.Fatalf("不同交易号加锁失败: %v", err)
	}
}
