// Package sweeper runs periodic queue maintenance: expiring dead leases and
// re-dispatching jobs whose broker message was lost.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule        = "@every 1m"
	DefaultLeaseTimeout    = 5 * time.Minute
	DefaultRedispatchAfter = 2 * time.Minute
)

// Config holds sweeper configuration
type Config struct {
	Schedule        string // cron expression, seconds field optional
	LeaseTimeout    time.Duration
	RedispatchAfter time.Duration
	RedispatchLimit int
	RunTimeout      time.Duration
}

// Report counts what one sweep changed
type Report struct {
	Expired      int
	Redispatched int
}

// Sweeper schedules queue maintenance with cron
type Sweeper struct {
	queue  *queue.Queue
	cfg    Config
	cron   *cron.Cron
	logger *slog.Logger
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a Sweeper. The schedule is validated here.
func New(q *queue.Queue, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if cfg.RedispatchAfter <= 0 {
		cfg.RedispatchAfter = DefaultRedispatchAfter
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Minute
	}

	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", cfg.Schedule, err)
	}

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Sweeper{
		queue:  q,
		cfg:    cfg,
		cron:   c,
		logger: logger,
	}
	if _, err := c.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	return s, nil
}

// Start runs the schedule in its own goroutine
func (s *Sweeper) Start() {
	s.logger.Info("Starting sweeper",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("lease_timeout", s.cfg.LeaseTimeout),
		slog.Duration("redispatch_after", s.cfg.RedispatchAfter),
	)
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep, bounded by ctx
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("Sweeper stop timed out")
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Sweep failed", slog.String("error", err.Error()))
	}
}

// RunOnce expires stale leases, then re-publishes jobs left queued
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	expired, err := s.queue.ExpireLeases(ctx, s.cfg.LeaseTimeout)
	if err != nil {
		return report, fmt.Errorf("failed to expire leases: %w", err)
	}
	report.Expired = expired

	redispatched, err := s.queue.Redispatch(ctx, s.cfg.RedispatchAfter, s.cfg.RedispatchLimit)
	if err != nil {
		return report, fmt.Errorf("failed to redispatch jobs: %w", err)
	}
	report.Redispatched = redispatched

	if report.Expired > 0 || report.Redispatched > 0 {
		s.logger.Info("Sweep finished",
			slog.Int("expired", report.Expired),
			slog.Int("redispatched", report.Redispatched),
		)
	}
	return report, nil
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
