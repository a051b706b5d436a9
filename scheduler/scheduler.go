// Package scheduler re-runs the batch on a cron cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-adwatch/metrics"
	"github.com/aluiziolira/go-adwatch/models"
	"github.com/robfig/cron/v3"
)

// ErrInvalidCadence is returned by Start when the cadence does not parse
// as a standard five-field cron expression or descriptor.
var ErrInvalidCadence = errors.New("scheduler: invalid cadence")

// Runner executes one batch.
type Runner interface {
	RunBatch(ctx context.Context, targets []models.Target, country string) (*models.BatchResult, error)
}

// TargetSource supplies extra targets, read again at every tick.
type TargetSource func(ctx context.Context) ([]models.Target, error)

// Scheduler owns a single recurring job. At most one batch runs at a time,
// whether it was started by a tick or by RunOnce.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	source  TargetSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
	cadence string
	country string
	targets []models.Target
	lastRun *models.LastRun

	batchMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTargetSource adds targets resolved at tick time.
func WithTargetSource(src TargetSource) Option {
	return func(s *Scheduler) {
		s.source = src
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithClock overrides the time source of lastRun.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New builds a stopped scheduler around runner.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
	)
	s.cron.Start()
	return s
}

// Start installs the recurring job, replacing any existing one.
func (s *Scheduler) Start(cadence string, targets []models.Target, country string) error {
	cadence = strings.TrimSpace(cadence)
	schedule, err := cron.ParseStandard(cadence)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCadence, cadence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	s.running = true
	s.cadence = cadence
	s.country = strings.ToUpper(country)
	s.targets = append([]models.Target(nil), targets...)

	s.logger.Info("scheduler started",
		slog.String("cadence", cadence),
		slog.Int("targets", len(targets)),
		slog.Time("next_run", schedule.Next(s.now())),
	)
	return nil
}

// SetTargets replaces the configured targets. The next tick uses them.
func (s *Scheduler) SetTargets(targets []models.Target, country string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append([]models.Target(nil), targets...)
	if country != "" {
		s.country = strings.ToUpper(country)
	}
}

// Stop prevents future ticks. An in-flight batch runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Remove(s.entry)
	s.entry = 0
	s.running = false
	s.logger.Info("scheduler stopped")
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() models.SchedulerState {
	s.mu.Lock()
	st := models.SchedulerState{
		Running: s.running,
		Cadence: s.cadence,
		Country: s.country,
		Targets: append([]models.Target(nil), s.targets...),
	}
	if s.lastRun != nil {
		lr := *s.lastRun
		st.LastRun = &lr
	}
	entry, running := s.entry, s.running
	s.mu.Unlock()

	if running {
		st.NextRun = s.cron.Entry(entry).Next
	}
	return st
}

// RunOnce runs a batch immediately, bypassing the cadence. It waits for any
// batch already in flight.
func (s *Scheduler) RunOnce(ctx context.Context, targets []models.Target, country string) ([]models.HistoryEvent, error) {
	return s.execute(ctx, "manual", targets, strings.ToUpper(country))
}

// Close stops the cron loop and waits for a running tick, at most until ctx
// is done, after which the tick's context is canceled.
func (s *Scheduler) Close(ctx context.Context) error {
	s.Stop()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	targets := append([]models.Target(nil), s.targets...)
	country := s.country
	s.mu.Unlock()

	if s.source != nil {
		extra, err := s.source(s.ctx)
		if err != nil {
			s.logger.Warn("resolve scheduled targets", slog.Any("error", err))
		}
		targets = mergeTargets(targets, extra)
	}

	if _, err := s.execute(s.ctx, "cron", targets, country); err != nil {
		s.logger.Error("scheduled batch failed", slog.Any("error", err))
	}
}

func (s *Scheduler) execute(ctx context.Context, trigger string, targets []models.Target, country string) ([]models.HistoryEvent, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	res, err := s.runner.RunBatch(ctx, targets, country)

	lr := &models.LastRun{Timestamp: s.now().UTC()}
	var events []models.HistoryEvent
	if res != nil {
		events = res.Events
		lr.EventCount = len(res.Events)
		lr.Error = res.LastError
	}
	if err != nil {
		lr.Error = err.Error()
	}

	s.mu.Lock()
	s.lastRun = lr
	s.mu.Unlock()

	s.metrics.ObserveRun(trigger, lr.Error != "", lr.Timestamp)
	s.logger.Info("batch run finished",
		slog.String("trigger", trigger),
		slog.Int("targets", len(targets)),
		slog.Int("events", lr.EventCount),
		slog.String("error", lr.Error),
	)
	return events, err
}

// mergeTargets appends extra to base, skipping targets already present.
func mergeTargets(base, extra []models.Target) []models.Target {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, t := range base {
		seen[t.String()] = struct{}{}
	}
	for _, t := range extra {
		if _, ok := seen[t.String()]; ok {
			continue
		}
		seen[t.String()] = struct{}{}
		base = append(base, t)
	}
	return base
}

// cronLogger bridges cron's logger into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
