package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr    string
	MetricsAddr string
	DBPath      string
	LogLevel    string

	RedisAddr string
	RedisDB   int

	KafkaBrokers []string
	KafkaTopic   string

	// Redis Stream outbox（业务写入后追加，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 下单接口限流与幂等键保留时间
	OrderRateLimit  int
	OrderRateWindow time.Duration
	IdempotencyTTL  time.Duration

	// HS256 签名密钥，由身份服务共享
	JWTSecret string

	// 价格重估：cron 表达式、时区、衰减系数、分布式锁 TTL
	RevaluationCron    string
	RevaluationTZ      *time.Location
	RevaluationLockTTL time.Duration
	DecayRate          float64
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9102"),
		DBPath:             getEnv("DB_PATH", "surplus_market.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "surplus-market-events"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "surplus:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "surplus-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "surplus-relay-1"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		RevaluationCron:    getEnv("REVALUATION_CRON", "0 0 * * *"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.OrderRateLimit, err = getEnvInt("ORDER_RATE_LIMIT", 20); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_RATE_LIMIT: %w", err)
	}
	if cfg.OrderRateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_RATE_LIMIT must be > 0")
	}

	windowSec, err := getEnvInt("ORDER_RATE_WINDOW_SEC", 60)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_RATE_WINDOW_SEC: %w", err)
	}
	if windowSec <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_RATE_WINDOW_SEC must be > 0")
	}
	cfg.OrderRateWindow = time.Duration(windowSec) * time.Second

	idemHours, err := getEnvInt("IDEMPOTENCY_TTL_HOUR", 24)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid IDEMPOTENCY_TTL_HOUR: %w", err)
	}
	if idemHours <= 0 {
		return AppConfig{}, fmt.Errorf("IDEMPOTENCY_TTL_HOUR must be > 0")
	}
	cfg.IdempotencyTTL = time.Duration(idemHours) * time.Hour

	lockSec, err := getEnvInt("REVALUATION_LOCK_TTL_SEC", 1800)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REVALUATION_LOCK_TTL_SEC: %w", err)
	}
	if lockSec <= 0 {
		return AppConfig{}, fmt.Errorf("REVALUATION_LOCK_TTL_SEC must be > 0")
	}
	cfg.RevaluationLockTTL = time.Duration(lockSec) * time.Second

	if cfg.DecayRate, err = getEnvFloat("DECAY_RATE", 0.5); err != nil {
		return AppConfig{}, fmt.Errorf("invalid DECAY_RATE: %w", err)
	}
	if cfg.DecayRate < 0 {
		return AppConfig{}, fmt.Errorf("DECAY_RATE must be >= 0")
	}

	tz := getEnv("REVALUATION_TZ", "Asia/Kolkata")
	if cfg.RevaluationTZ, err = time.LoadLocation(tz); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REVALUATION_TZ %q: %w", tz, err)
	}
	if _, err := cron.ParseStandard(cfg.RevaluationCron); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REVALUATION_CRON %q: %w", cfg.RevaluationCron, err)
	}

	if cfg.JWTSecret == "" {
		return AppConfig{}, fmt.Errorf("JWT_SECRET must not be empty")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if cfg.OrderEventGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
