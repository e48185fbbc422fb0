package handler

import (
	"novelpay/internal/config"
	"novelpay/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config,
	vnpayGw *gateway.VNPayGateway, stripeGw *gateway.StripeGateway) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, vnpayGw, stripeGw)

	api := r.Group("/api/v1")
	{
		// 充值相关
		payments := api.Group("/payments")
		{
			payments.POST("/create", h.CreatePayment)
			payments.POST("/confirm", h.ConfirmPayment)
			payments.GET("/vnpay/return", h.VNPayReturn)
			payments.POST("/webhook/stripe", h.StripeWebhook)
			payments.GET("/list", h.ListPayments)
		}

		// 章节购买
		chapters := api.Group("/chapters")
		{
			chapters.POST("/:chapter_id/purchase", h.PurchaseChapter)
		}

		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
