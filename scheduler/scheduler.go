package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler 按 cron 表达式周期执行任务，上一轮没跑完时跳过本轮
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	// 任务使用的 ctx，Run 时替换为调用方的 ctx
	ctx context.Context
}

// New 支持标准 5 段表达式和 @every 10m 这类描述符
func New(spec string, logger *slog.Logger, fn func(ctx context.Context)) (*Scheduler, error) {
	s := &Scheduler{logger: logger, ctx: context.Background()}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))

	_, err := s.cron.AddFunc(spec, func() {
		logger.Info("scheduled run started", "spec", spec)
		fn(s.ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run 启动调度，阻塞到 ctx 结束并等待正在执行的任务完成
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
