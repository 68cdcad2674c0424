package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"surplus_market/internal/catalog"
	"surplus_market/internal/config"
	"surplus_market/internal/database"
	"surplus_market/internal/logging"
	"surplus_market/internal/order"
	"surplus_market/internal/queue"
	"surplus_market/internal/revaluation"
	"surplus_market/internal/router"
	rediskey "surplus_market/pkg/redis"
)

func main() {
	// 本地开发可用 .env，生产环境直接注入环境变量
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 连接 SQLite，自动建表
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("database")
	}

	// 2. Redis：限流、幂等、outbox stream、重估锁
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("redis ping")
	}

	// 3. outbox -> Kafka relay
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	outbox := queue.NewOutbox(rdb, cfg.OrderEventStream)
	relay := queue.NewRelay(rdb, producer, log, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	catalogStore := catalog.NewStore(db)
	job := revaluation.NewJob(catalogStore, cfg.DecayRate, log)
	job.Locker = rediskey.NewLock(rdb, rediskey.RevaluationLockKey(), cfg.RevaluationLockTTL)
	job.Events = outbox

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Catalog:     catalog.NewService(catalogStore, log),
		Orders:      order.NewService(order.NewStore(db), outbox, log),
		Revaluation: job,
		Redis:       rdb,
		Config:      cfg,
		Log:         log,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	<-relayDone
}
