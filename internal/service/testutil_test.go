package service

import (
	"fmt"
	"strings"
	"testing"

	"novelpay/internal/config"
	"novelpay/internal/infrastructure/database"
	"novelpay/internal/model"
	"novelpay/pkg/idgen"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

// newTestDB 内存 sqlite 跑和生产同一份迁移
// cache=shared 让同一个 DSN 的多个连接看到同一份数据，
// 连接数限制为 1 规避 sqlite 写锁竞争
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层 DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.CoinEvent = "novelpay.coin.event.test"
	cfg.Business.TopupTimeoutMinutes = 30
	cfg.Business.MaxRetryCount = 3
	cfg.Business.DefaultChapterPrice = 10
	return cfg
}

func seedChapter(t *testing.T, db *gorm.DB, posterID int64, priceXu int64, locked bool) *model.Chapter {
	t.Helper()

	novel := &model.Novel{Title: "测试小说", PosterID: posterID}
	if err := db.Create(novel).Error; err != nil {
		t.Fatalf("写入小说失败: %v", err)
	}

	chapter := &model.Chapter{
		NovelID:   novel.ID,
		Title:     "第一章",
		ChapterNo: 1,
		PriceXu:   priceXu,
		IsLocked:  locked,
		WordCount: 2000,
	}
	if err := db.Create(chapter).Error; err != nil {
		t.Fatalf("写入章节失败: %v", err)
	}
	return chapter
}

func seedAccount(t *testing.T, db *gorm.DB, userID, coins int64) *model.Account {
	t.Helper()
	account := &model.Account{UserID: userID, Coins: coins}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("写入账户失败: %v", err)
	}
	return account
}

func accountCoins(t *testing.T, db *gorm.DB, userID int64) int64 {
	t.Helper()
	var account model.Account
	if err := db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		t.Fatalf("查询账户失败: %v", err)
	}
	return account.Coins
}

func loadTxn(t *testing.T, db *gorm.DB, txnNo string) *model.Transaction {
	t.Helper()
	var txn model.Transaction
	if err := db.Where("txn_no = ?", txnNo).First(&txn).Error; err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	return &txn
}

func countOutbox(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.OutboxMessage{}).Count(&n).Error; err != nil {
		t.Fatalf("统计 outbox 失败: %v", err)
	}
	return n
}
