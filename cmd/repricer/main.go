// repricer 独立运行的价格重估进程：按 cron 定时跑，或 -once 跑一次就退出。
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"surplus_market/internal/catalog"
	"surplus_market/internal/config"
	"surplus_market/internal/database"
	"surplus_market/internal/logging"
	"surplus_market/internal/metrics"
	"surplus_market/internal/queue"
	"surplus_market/internal/revaluation"
	rediskey "surplus_market/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single revaluation pass and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel).WithField("service", "repricer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("database")
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	job := revaluation.NewJob(catalog.NewStore(db), cfg.DecayRate, log)
	// Redis 不可用时仍然可以跑，只是失去跨实例互斥
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, running without lock and events")
	} else {
		job.Locker = rediskey.NewLock(rdb, rediskey.RevaluationLockKey(), cfg.RevaluationLockTTL)
		job.Events = queue.NewOutbox(rdb, cfg.OrderEventStream)
	}

	sched, err := revaluation.NewScheduler(job, cfg.RevaluationCron, cfg.RevaluationTZ, log)
	if err != nil {
		log.WithError(err).Fatal("scheduler")
	}

	if *once {
		res, err := sched.RunNow(ctx)
		if err != nil {
			log.WithError(err).Fatal("revaluation failed")
		}
		log.WithFields(logrus.Fields{
			"examined": res.Examined,
			"updated":  res.Updated,
			"failed":   res.Failed,
		}).Info("revaluation done")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()

	sched.Start()
	<-ctx.Done()

	log.Info("stopping scheduler, waiting for running pass")
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
