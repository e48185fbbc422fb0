package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"novelpay/internal/config"
	"novelpay/internal/gateway"
	"novelpay/internal/handler"
	"novelpay/internal/infrastructure/cache"
	"novelpay/internal/infrastructure/database"
	"novelpay/internal/infrastructure/mq"
	"novelpay/internal/job"
	"novelpay/pkg/idgen"
)

func main() {
	// 加载配置并做启动期校验
	cfg := config.LoadConfig("config/config.yaml")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL / Redis / Kafka
	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 构造支付网关，未配置的渠道降级为不可用而不是直接退出
	vnpayGw, err := gateway.NewVNPayGateway(&cfg.VNPay)
	if err != nil {
		log.Printf("VNPAY 渠道不可用: %v", err)
	}
	stripeGw, err := gateway.NewStripeGateway(&cfg.Stripe)
	if err != nil {
		log.Printf("Stripe 渠道不可用: %v", err)
	}
	if vnpayGw == nil && stripeGw == nil {
		log.Fatal("没有任何可用的支付渠道，请检查网关配置")
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	topupTimeoutJob := job.NewTopupTimeoutJob(db, cfg)
	go topupTimeoutJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, vnpayGw, stripeGw)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
