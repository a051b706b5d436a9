package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-adwatch/cache"
	"github.com/aluiziolira/go-adwatch/config"
	"github.com/aluiziolira/go-adwatch/metrics"
	"github.com/aluiziolira/go-adwatch/models"
	"github.com/aluiziolira/go-adwatch/parser"
)

// Scraper runs the strategy fallback chain for one target at a time and
// fronts it with the result cache. It is safe for concurrent use.
type Scraper struct {
	cfg        *config.Config
	strategies []Strategy
	fetchers   map[FetchMode]Fetcher
	cache      *cache.Cache
	metrics    *metrics.Metrics
	logger     *slog.Logger
	retry      retryPolicy

	uaNext atomic.Uint64
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithFetcher installs the fetcher used by strategies of the given mode.
func WithFetcher(mode FetchMode, f Fetcher) Option {
	return func(s *Scraper) {
		s.fetchers[mode] = f
	}
}

// WithStrategies replaces the default fallback chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(s *Scraper) {
		s.strategies = append([]Strategy(nil), strategies...)
	}
}

// WithCache replaces the result cache.
func WithCache(c *cache.Cache) Option {
	return func(s *Scraper) {
		s.cache = c
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scraper) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) {
		s.logger = l
	}
}

// NewScraper builds a scraper configured from cfg. Fetchers not supplied
// through options are created from cfg: colly for raw mode and, when
// rendering is enabled, a stealth browser for rendered mode.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	s := &Scraper{
		cfg:      cfg,
		fetchers: make(map[FetchMode]Fetcher),
		retry: retryPolicy{
			maxRetries: cfg.MaxRetries,
			base:       cfg.RetryBackoff,
			max:        cfg.RetryBackoffMax,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.strategies == nil {
		s.strategies = DefaultStrategies(cfg)
	}
	if len(s.strategies) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	if s.cache == nil {
		c, err := cache.New(cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create cache: %w", err)
		}
		s.cache = c
	}
	if _, ok := s.fetchers[ModeRaw]; !ok {
		s.fetchers[ModeRaw] = NewRawFetcher(cfg.StrategyTimeout)
	}
	if _, ok := s.fetchers[ModeRendered]; !ok && cfg.RenderEnabled {
		s.fetchers[ModeRendered] = NewRenderFetcher(RenderConfig{
			RemoteURL: cfg.BrowserURL,
			Headless:  cfg.Headless,
			Logger:    s.logger,
		})
	}
	return s, nil
}

// Strategies returns a copy of the fallback chain.
func (s *Scraper) Strategies() []Strategy {
	return append([]Strategy(nil), s.strategies...)
}

// ExtractCount returns the terminal extraction result for target.
//
// Malformed targets fail fast with ErrInvalidTarget. A chain that runs out
// of strategies is not an error: it yields a zero count with source
// "exhausted". Only overrunning the pipeline timeout returns
// ErrPipelineTimeout. Fresh cached results are replayed with source
// "cached".
func (s *Scraper) ExtractCount(ctx context.Context, target models.Target) (models.ExtractionResult, error) {
	targetURL, err := parser.ResolveURL(target)
	if err != nil {
		s.metrics.IncExtraction("invalid")
		return models.ExtractionResult{
			Error:        models.ErrorInvalidTarget,
			ErrorMessage: err.Error(),
		}, fmt.Errorf("%w: %s: %v", ErrInvalidTarget, target, err)
	}

	if cached, ok := s.cache.Get(targetURL); ok {
		s.metrics.IncCache(true)
		s.metrics.IncExtraction(string(models.SourceCached))
		cached.StrategySource = models.SourceCached
		return cached, nil
	}
	s.metrics.IncCache(false)

	res, err := s.runChain(ctx, targetURL)
	if ctx.Err() == nil {
		s.cache.Put(targetURL, res)
	}
	s.metrics.IncExtraction(string(res.StrategySource))
	return res, err
}

func (s *Scraper) runChain(ctx context.Context, targetURL string) (models.ExtractionResult, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PipelineTimeout)
	defer cancel()

	log := s.logger.With(slog.String("url", targetURL))

	for _, st := range s.strategies {
		if pctx.Err() != nil {
			break
		}

		doc, err := s.attempt(pctx, targetURL, st)
		if err != nil {
			log.Debug("strategy fetch failed",
				slog.String("strategy", st.ID),
				slog.String("category", errorTypeLabel(err)),
				slog.Any("error", err),
			)
			continue
		}

		match, ok := extract(doc, st)
		if !ok {
			log.Debug("strategy found no count", slog.String("strategy", st.ID))
			continue
		}

		log.Info("count extracted",
			slog.String("strategy", st.ID),
			slog.Int("count", match.Count),
			slog.String("rule", match.Rule),
		)
		return models.ExtractionResult{
			Count:          models.IntPtr(match.Count),
			StrategySource: models.StrategySource(st.ID),
			RawEvidence:    match.Evidence,
		}, nil
	}

	if err := pctx.Err(); err != nil {
		if parentErr := ctx.Err(); parentErr != nil {
			return models.ExtractionResult{
				Error:        KindOf(classifyError(parentErr, 0)),
				ErrorMessage: parentErr.Error(),
			}, parentErr
		}
		log.Warn("pipeline timeout", slog.Duration("timeout", s.cfg.PipelineTimeout))
		return models.ExtractionResult{
			Error:        models.ErrorFetchTimeout,
			ErrorMessage: fmt.Sprintf("pipeline exceeded %s", s.cfg.PipelineTimeout),
		}, fmt.Errorf("%w: %s", ErrPipelineTimeout, targetURL)
	}

	log.Info("strategies exhausted", slog.Int("strategies", len(s.strategies)))
	return models.ExtractionResult{
		Count:          models.IntPtr(0),
		StrategySource: models.SourceExhausted,
	}, nil
}

// attempt runs one strategy, retrying retryable fetch errors with capped
// exponential backoff.
func (s *Scraper) attempt(ctx context.Context, targetURL string, st Strategy) (*Document, error) {
	fetcher, ok := s.fetchers[st.Mode]
	if !ok || fetcher == nil {
		s.metrics.IncError(errorTypeLabel(ErrNoFetcher))
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, st.Mode)
	}
	if st.UserAgent == "" {
		st.UserAgent = s.nextUserAgent()
	}
	if st.Locale == "" {
		st.Locale = s.cfg.Locale
	}

	var lastErr error
	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.IncRetries()
			if err := sleepCtx(ctx, s.retry.backoff(attempt)); err != nil {
				return nil, lastErr
			}
		}

		doc, err := s.fetchOnce(ctx, fetcher, targetURL, st)
		if err == nil {
			s.metrics.IncFetch(st.ID, "ok")
			return doc, nil
		}
		lastErr = err
		s.metrics.IncFetch(st.ID, "error")
		s.metrics.IncError(errorTypeLabel(err))

		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

type fetchOutcome struct {
	doc *Document
	err error
}

// fetchOnce bounds a single fetch by the strategy timeout even when the
// fetcher does not watch its context.
func (s *Scraper) fetchOnce(ctx context.Context, f Fetcher, targetURL string, st Strategy) (*Document, error) {
	timeout := st.Timeout
	if timeout <= 0 {
		timeout = s.cfg.StrategyTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan fetchOutcome, 1)
	go func() {
		doc, err := f.Fetch(actx, targetURL, st)
		ch <- fetchOutcome{doc: doc, err: err}
	}()

	select {
	case out := <-ch:
		s.metrics.ObserveFetch(string(st.Mode), time.Since(start))
		if out.err != nil {
			return nil, out.err
		}
		if out.doc == nil {
			return nil, errors.New("fetcher returned no document")
		}
		return out.doc, nil
	case <-actx.Done():
		s.metrics.ObserveFetch(string(st.Mode), time.Since(start))
		return nil, classifyError(actx.Err(), 0)
	}
}

func (s *Scraper) nextUserAgent() string {
	pool := s.cfg.UserAgents
	if len(pool) == 0 {
		return ""
	}
	n := s.uaNext.Add(1) - 1
	return pool[n%uint64(len(pool))]
}

// Close releases fetchers that hold resources, such as browsers.
func (s *Scraper) Close() error {
	var firstErr error
	for _, f := range s.fetchers {
		if c, ok := f.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
