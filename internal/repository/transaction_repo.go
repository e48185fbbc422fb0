package repository

import (
	"context"
	"errors"
	"time"

	"novelpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrStatusInvalid       = errors.New("交易状态不合法")
	ErrDuplicatePurchase   = errors.New("该章节已存在成功的购买流水")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 写入流水
// 购买类流水撞上 (user_id, chapter_id) 唯一索引时归一化为 ErrDuplicatePurchase
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(txn).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicatePurchase
	}
	return err
}

func (r *TransactionRepository) GetByTxnNo(ctx context.Context, txnNo string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("txn_no = ?", txnNo).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// UpdateStatus 条件状态迁移
// WHERE 带上原状态，RowsAffected=0 说明已被并发请求迁走，返回 ErrStatusInvalid
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, txnNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("txn_no = ? AND status = ?", txnNo, fromStatus).
		Updates(map[string]interface{}{
			"status":       toStatus,
			"confirmed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}

	return nil
}

// MarkSuccess PENDING -> SUCCESS，同时记录余额快照
// 这是充值确认幂等的关键：两个并发确认只有一个能命中 PENDING 行
func (r *TransactionRepository) MarkSuccess(ctx context.Context, tx *gorm.DB, txnNo string, balanceBefore, balanceAfter int64) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("txn_no = ? AND status = ?", txnNo, model.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":         model.TransactionStatusSuccess,
			"balance_before": balanceBefore,
			"balance_after":  balanceAfter,
			"confirmed_at":   &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}

	return nil
}

func (r *TransactionRepository) UpdateSessionID(ctx context.Context, txnNo, sessionID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("txn_no = ?", txnNo).
		Update("session_id", sessionID).Error
}

// GetSuccessPurchase 查询用户对某章节是否已有成功购买，没有时返回 (nil, nil)
func (r *TransactionRepository) GetSuccessPurchase(ctx context.Context, userID, chapterID int64) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND chapter_id = ? AND type = ? AND status = ?",
			userID, chapterID, model.TransactionTypePurchase, model.TransactionStatusSuccess).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// GetExpiredPendingTopups 超时未确认的充值流水，供后台任务取消
func (r *TransactionRepository) GetExpiredPendingTopups(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var txns []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND created_at < ?",
			model.TransactionTypeTopup, model.TransactionStatusPending, before).
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var txns []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&txns).Error

	return txns, total, err
}
