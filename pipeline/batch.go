// Package pipeline runs batches of extractions and exports the resulting
// history events.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-adwatch/config"
	"github.com/aluiziolira/go-adwatch/metrics"
	"github.com/aluiziolira/go-adwatch/models"
	"github.com/vnykmshr/goflow/pkg/ratelimit/bucket"
)

// Extractor produces the terminal result for one target.
type Extractor interface {
	ExtractCount(ctx context.Context, target models.Target) (models.ExtractionResult, error)
}

// Recorder persists events and rolls them up into collections.
type Recorder interface {
	Append(ctx context.Context, events []models.HistoryEvent) error
	RollupMerge(ctx context.Context, events ...models.HistoryEvent) error
}

// Runner executes batches. Targets are split into a page-reference stream
// and a direct-URL stream; each stream is processed in fixed-size chunks
// whose members run concurrently, and a chunk must finish before the next
// one starts.
type Runner struct {
	extractor Extractor
	recorder  Recorder
	pageChunk int
	urlChunk  int
	limiter   bucket.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder persists every chunk's events.
func WithRecorder(r Recorder) RunnerOption {
	return func(run *Runner) {
		run.recorder = r
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(run *Runner) {
		run.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(run *Runner) {
		run.logger = l
	}
}

// WithClock overrides the batch timestamp source.
func WithClock(now func() time.Time) RunnerOption {
	return func(run *Runner) {
		run.now = now
	}
}

// NewRunner builds a runner using the chunk sizes and rate limit of cfg.
func NewRunner(extractor Extractor, cfg *config.Config, opts ...RunnerOption) (*Runner, error) {
	if extractor == nil {
		return nil, fmt.Errorf("runner requires an extractor")
	}
	run := &Runner{
		extractor: extractor,
		pageChunk: cfg.PageConcurrency,
		urlChunk:  cfg.URLConcurrency,
		logger:    slog.Default(),
		now:       time.Now,
	}
	if run.pageChunk <= 0 {
		run.pageChunk = 3
	}
	if run.urlChunk <= 0 {
		run.urlChunk = 5
	}

	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit * 2)
		if burst < 1 {
			burst = 1
		}
		limiter, err := bucket.NewSafe(bucket.Limit(cfg.RateLimit), burst)
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		run.limiter = limiter
	}

	for _, opt := range opts {
		opt(run)
	}
	return run, nil
}

type outcome struct {
	target models.Target
	result models.ExtractionResult
	err    error
}

// RunBatch extracts every target and returns the successful events.
// A failing target is recorded in LastError and never aborts its siblings.
// An error is returned only when persistence fails or ctx is done; the
// result then holds everything completed so far.
func (r *Runner) RunBatch(ctx context.Context, targets []models.Target, country string) (*models.BatchResult, error) {
	start := r.now()
	result := &models.BatchResult{StartTime: start}

	var pages, urls []models.Target
	for _, t := range targets {
		switch t.Kind {
		case models.KindPageReference:
			if t.Country == "" {
				t.Country = country
			}
			t.Country = strings.ToUpper(t.Country)
			pages = append(pages, t)
		default:
			urls = append(urls, t)
		}
	}

	streams := []struct {
		targets []models.Target
		size    int
	}{
		{targets: pages, size: r.pageChunk},
		{targets: urls, size: r.urlChunk},
	}

	for _, stream := range streams {
		for from := 0; from < len(stream.targets); from += stream.size {
			if err := ctx.Err(); err != nil {
				result.EndTime = r.now()
				return result, err
			}
			to := from + stream.size
			if to > len(stream.targets) {
				to = len(stream.targets)
			}

			events := r.runChunk(ctx, stream.targets[from:to], start, result)
			result.Events = append(result.Events, events...)

			if err := r.record(ctx, events); err != nil {
				result.EndTime = r.now()
				return result, err
			}
		}
	}

	result.EndTime = r.now()
	r.logger.Info("batch complete",
		slog.Int("targets", len(targets)),
		slog.Int("events", len(result.Events)),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.EndTime.Sub(start)),
	)
	return result, nil
}

func (r *Runner) runChunk(ctx context.Context, chunk []models.Target, ts time.Time, result *models.BatchResult) []models.HistoryEvent {
	outcomes := make([]outcome, len(chunk))

	var wg sync.WaitGroup
	for i, t := range chunk {
		wg.Add(1)
		go func(i int, t models.Target) {
			defer wg.Done()
			outcomes[i] = r.extractOne(ctx, t)
		}(i, t)
	}
	wg.Wait()

	var events []models.HistoryEvent
	for _, o := range outcomes {
		if o.err == nil && o.result.Failed() {
			o.err = fmt.Errorf("%s: %s", o.result.Error, o.result.ErrorMessage)
		}
		if o.err != nil {
			result.Failed++
			result.LastError = fmt.Sprintf("%s: %v", o.target, o.err)
			r.metrics.IncBatchFailure()
			r.logger.Warn("target failed",
				slog.String("target", o.target.String()),
				slog.Any("error", o.err),
			)
			continue
		}

		ev := models.HistoryEvent{
			Timestamp: ts,
			Kind:      o.target.Kind,
			Count:     o.result.CountValue(),
			Source:    o.result.StrategySource,
		}
		switch o.target.Kind {
		case models.KindPageReference:
			ev.PageID = o.target.PageID
			ev.Country = o.target.Country
		default:
			ev.URL = o.target.URL
		}
		events = append(events, ev)
		r.metrics.AddBatchEvents(string(ev.Kind), 1)
	}
	return events
}

func (r *Runner) extractOne(ctx context.Context, t models.Target) (out outcome) {
	out.target = t
	defer func() {
		if rec := recover(); rec != nil {
			out.err = fmt.Errorf("extractor panic: %v", rec)
		}
	}()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			out.err = fmt.Errorf("rate limiter wait canceled: %w", err)
			return out
		}
	}
	out.result, out.err = r.extractor.ExtractCount(ctx, t)
	return out
}

func (r *Runner) record(ctx context.Context, events []models.HistoryEvent) error {
	if r.recorder == nil || len(events) == 0 {
		return nil
	}
	if err := r.recorder.Append(ctx, events); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	if err := r.recorder.RollupMerge(ctx, events...); err != nil {
		return fmt.Errorf("rollup collections: %w", err)
	}
	return nil
}
