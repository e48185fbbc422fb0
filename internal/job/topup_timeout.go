package job

import (
	"context"
	"log"
	"time"

	"novelpay/internal/config"
	"novelpay/internal/model"
	"novelpay/internal/repository"

	"gorm.io/gorm"
)

// TopupTimeoutJob 清理长期停留在 PENDING 的充值流水
// 用户跳到网关后弃单时不会有任何回调，这类流水超时后统一迁到
// CANCELED。只做条件状态迁移，绝不加币；真正迟到的成功回调会因为
// 流水已进终态而拿到已有结果，不会重复入账
type TopupTimeoutJob struct {
	db        *gorm.DB
	txnRepo   *repository.TransactionRepository
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewTopupTimeoutJob(db *gorm.DB, cfg *config.Config) *TopupTimeoutJob {
	return &TopupTimeoutJob{
		db:        db,
		txnRepo:   repository.NewTransactionRepository(db),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 100,
	}
}

func (j *TopupTimeoutJob) Start(ctx context.Context) {
	log.Println("[TopupTimeoutJob] 充值超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TopupTimeoutJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[TopupTimeoutJob] 任务停止")
			return
		case <-ticker.C:
			j.cancelExpiredTopups(ctx)
		}
	}
}

func (j *TopupTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *TopupTimeoutJob) cancelExpiredTopups(ctx context.Context) {
	timeout := time.Duration(j.cfg.Business.TopupTimeoutMinutes) * time.Minute
	before := time.Now().Add(-timeout)

	txns, err := j.txnRepo.GetExpiredPendingTopups(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[TopupTimeoutJob] 查询超时充值失败: %v", err)
		return
	}

	if len(txns) == 0 {
		return
	}

	canceledCount := 0
	for _, txn := range txns {
		err := j.txnRepo.UpdateStatus(ctx, nil, txn.TxnNo, model.TransactionStatusPending, model.TransactionStatusCanceled)
		if err != nil {
			// 可能刚被确认，属于正常竞争
			continue
		}
		canceledCount++
		log.Printf("[TopupTimeoutJob] 充值超时取消: txnNo=%s, userID=%d, coins=%d", txn.TxnNo, txn.UserID, txn.Amount)
	}

	if canceledCount > 0 {
		log.Printf("[TopupTimeoutJob] 本次取消 %d 笔超时充值", canceledCount)
	}
}
