package revaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler 用 cron 表达式在固定时区触发 Job.Run；
// 上一次还没跑完时直接跳过，不排队。
type Scheduler struct {
	cron    *cron.Cron
	job     *Job
	clock   func() time.Time
	log     logrus.FieldLogger
	timeout time.Duration
	entry   cron.EntryID
}

// NewScheduler spec 为标准 5 段 cron 表达式，例如 "0 0 * * *" 表示每天零点。
func NewScheduler(job *Job, spec string, loc *time.Location, log logrus.FieldLogger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		job:     job,
		clock:   time.Now,
		log:     log.WithField("component", "scheduler"),
		timeout: 30 * time.Minute,
	}
	cronLog := cron.PrintfLogger(s.log)
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid revaluation schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.log.WithError(err).Error("scheduled revaluation failed")
	}
}

// RunNow 立即以当前时钟执行一次，供 -once 与管理接口复用。
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	return s.job.Run(ctx, s.clock())
}

// Next 下一次计划触发时间。
func (s *Scheduler) Next(after time.Time) time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(after)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("next_run", s.Next(s.clock())).Info("revaluation scheduler started")
}

// Stop 停止调度并等待正在执行的任务结束。
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
