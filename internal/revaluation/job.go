// Package revaluation 周期性按衰减曲线重估所有在售商品的价格。
//
// Job.Run 是同步、确定性的：给定 now，结果只取决于存储中的数据，
// 同一个 now 连续跑两次，第二次不会再改动任何商品。调度由 Scheduler 或
// 管理接口负责，Job 本身不持有任何定时器。
package revaluation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"surplus_market/internal/apperr"
	"surplus_market/internal/metrics"
	"surplus_market/internal/model"
	"surplus_market/internal/pricing"
	"surplus_market/internal/queue"
)

// ErrRunInProgress 其他实例持有重估锁，本次跳过。
var ErrRunInProgress = errors.New("revaluation already running")

// CatalogStore 是 Job 依赖的商品存储子集。
type CatalogStore interface {
	ListActive(ctx context.Context, now time.Time) ([]model.Listing, error)
	UpdatePrice(ctx context.Context, id uint, newPrice int64) error
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// Locker 跨进程互斥，可为空。
type Locker interface {
	Acquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// EventSink 改价事件的出口，可为空。
type EventSink interface {
	Append(ctx context.Context, ev queue.Event) error
}

type Job struct {
	Catalog CatalogStore
	Rate    float64
	Locker  Locker
	Events  EventSink
	Log     logrus.FieldLogger
}

// Result 单次运行统计。
type Result struct {
	Examined int   `json:"examined"`
	Updated  int   `json:"updated"`
	Failed   int   `json:"failed"`
	Expired  int64 `json:"expired"`
}

func NewJob(catalog CatalogStore, rate float64, log logrus.FieldLogger) *Job {
	return &Job{Catalog: catalog, Rate: rate, Log: log.WithField("component", "revaluation")}
}

// Run 执行一次重估：
// 1. 读取所有在售商品（失败则整次放弃）
// 2. 逐个按曲线计算新价，仅在价格变化时写库；单个写失败记录后继续
// 3. 将已过期的 active 商品标记为 expired
func (j *Job) Run(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	now = now.UTC()

	if j.Locker != nil {
		token := uuid.NewString()
		ok, err := j.Locker.Acquire(ctx, token)
		if err != nil {
			metrics.RecordRevaluation("failed", 0, 0, 0, time.Since(start).Seconds())
			return Result{}, apperr.StoreUnavailable("acquire revaluation lock", err)
		}
		if !ok {
			metrics.RecordRevaluation("skipped", 0, 0, 0, 0)
			j.Log.Info("revaluation skipped, lock held by another run")
			return Result{}, ErrRunInProgress
		}
		defer func() {
			// 用独立 ctx 释放，避免调用方已取消导致锁挂到 TTL 才过期
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := j.Locker.Release(relCtx, token); err != nil {
				j.Log.WithError(err).Warn("release revaluation lock")
			}
		}()
	}

	res, err := j.run(ctx, now)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	metrics.RecordRevaluation(outcome, res.Examined, res.Updated, res.Failed, time.Since(start).Seconds())
	return res, err
}

func (j *Job) run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	listings, err := j.Catalog.ListActive(ctx, now)
	if err != nil {
		j.Log.WithError(err).Error("revaluation aborted: cannot list active listings")
		return res, err
	}

	for i := range listings {
		if err := ctx.Err(); err != nil {
			j.Log.WithFields(logrus.Fields{"examined": res.Examined, "updated": res.Updated}).
				Warn("revaluation interrupted")
			return res, err
		}
		l := &listings[i]
		res.Examined++

		newPrice := pricing.Price(l.OriginalPrice, l.CreatedAt, l.ExpiryDate, j.Rate, now)
		if newPrice == l.CurrentPrice {
			continue
		}
		if err := j.Catalog.UpdatePrice(ctx, l.ID, newPrice); err != nil {
			res.Failed++
			j.Log.WithError(err).WithField("listing_id", l.ID).Warn("price update failed, continuing")
			continue
		}
		res.Updated++
		j.emit(ctx, l, newPrice, now)
	}

	expired, err := j.Catalog.MarkExpired(ctx, now)
	if err != nil {
		j.Log.WithError(err).Warn("mark expired listings failed")
	}
	res.Expired = expired

	j.Log.WithFields(logrus.Fields{
		"examined": res.Examined,
		"updated":  res.Updated,
		"failed":   res.Failed,
		"expired":  res.Expired,
	}).Info("revaluation finished")
	return res, nil
}

func (j *Job) emit(ctx context.Context, l *model.Listing, newPrice int64, now time.Time) {
	if j.Events == nil {
		return
	}
	ev, err := queue.NewEvent(queue.EventListingRepriced, "repricer", strconv.FormatUint(uint64(l.ID), 10),
		queue.ListingRepricedPayload{ListingID: l.ID, OldPrice: l.CurrentPrice, NewPrice: newPrice}, now)
	if err == nil {
		err = j.Events.Append(ctx, ev)
	}
	if err != nil {
		j.Log.WithError(err).WithField("listing_id", l.ID).Warn("append repriced event")
	}
}
