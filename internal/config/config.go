package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
// 支付网关的密钥全部收敛到这里，启动时校验一次，不在调用点读环境变量
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	VNPay    VNPayConfig    `mapstructure:"vnpay"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CoinEvent string `mapstructure:"coin_event"`
}

// VNPayConfig VNPAY 商户参数，四项缺一不可
type VNPayConfig struct {
	TmnCode    string `mapstructure:"tmn_code"`
	HashSecret string `mapstructure:"hash_secret"`
	PayURL     string `mapstructure:"pay_url"`
	ReturnURL  string `mapstructure:"return_url"`
}

// StripeConfig Stripe 参数，webhook_secret 只在回调校验时用到
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type BusinessConfig struct {
	TopupTimeoutMinutes int   `mapstructure:"topup_timeout_minutes"` // 超过该时长的 PENDING 充值由后台任务取消
	MaxRetryCount       int   `mapstructure:"max_retry_count"`
	DefaultChapterPrice int64 `mapstructure:"default_chapter_price"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	return config
}

// Validate 启动期校验基础设施配置
// 网关配置不在这里强校验：未配置的渠道在构造网关时降级为不可用
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port 未配置")
	}
	if c.MySQL.Host == "" || c.MySQL.Database == "" {
		return errors.New("mysql 连接信息不完整")
	}
	if c.Redis.Host == "" {
		return errors.New("redis 连接信息不完整")
	}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic.CoinEvent == "" {
		return errors.New("kafka 配置不完整")
	}
	if c.Business.TopupTimeoutMinutes <= 0 {
		return fmt.Errorf("business.topup_timeout_minutes 必须大于0，当前为 %d", c.Business.TopupTimeoutMinutes)
	}
	return nil
}
