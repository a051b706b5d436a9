package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/go-adwatch/config"
	"github.com/aluiziolira/go-adwatch/history"
	"github.com/aluiziolira/go-adwatch/metrics"
	"github.com/aluiziolira/go-adwatch/models"
	"github.com/aluiziolira/go-adwatch/parser"
	"github.com/aluiziolira/go-adwatch/pipeline"
	"github.com/aluiziolira/go-adwatch/scraper"
	"github.com/aluiziolira/go-adwatch/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app carries what every command shares after flag parsing.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:          "adwatch",
		Short:        "Track active ad counts of ads-library pages and searches",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.Country = strings.ToUpper(strings.TrimSpace(cfg.Country))
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			a.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Country, "country", cfg.Country, "Two-letter country for page targets")
	flags.StringSliceVar(&cfg.PageIDs, "page-ids", cfg.PageIDs, "Page IDs to track")
	flags.StringSliceVar(&cfg.URLs, "urls", cfg.URLs, "Ads library URLs to track")
	flags.StringVar(&cfg.Locale, "locale", cfg.Locale, "Browser locale")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding the history and collections")
	flags.StringVar(&cfg.StorageBackend, "storage", cfg.StorageBackend, "Storage backend: file or sqlite")
	flags.DurationVar(&cfg.StrategyTimeout, "strategy-timeout", cfg.StrategyTimeout, "Timeout of one strategy")
	flags.DurationVar(&cfg.PipelineTimeout, "pipeline-timeout", cfg.PipelineTimeout, "Timeout of one extraction")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retries of a strategy on retryable errors")
	flags.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial retry backoff")
	flags.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Maximum retry backoff")
	flags.IntVar(&cfg.PageConcurrency, "page-concurrency", cfg.PageConcurrency, "Page targets extracted at once")
	flags.IntVar(&cfg.URLConcurrency, "url-concurrency", cfg.URLConcurrency, "URL targets extracted at once")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Extractions started per second, 0 disables")
	flags.StringVar(&cfg.ProxyURL, "proxy", cfg.ProxyURL, "Proxy URL for the proxy strategy")
	flags.BoolVar(&cfg.RenderEnabled, "render", cfg.RenderEnabled, "Enable the headless browser strategies")
	flags.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run the local browser headless")
	flags.StringVar(&cfg.BrowserURL, "browser-url", cfg.BrowserURL, "DevTools URL of a remote browser")
	flags.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Maximum cached results")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")

	root.AddCommand(
		newServeCmd(a),
		newOnceCmd(a),
		newCountCmd(a),
		newHistoryCmd(a),
		newCollectionsCmd(a),
	)
	return root
}

// engine is the wired extraction stack.
type engine struct {
	scraper *scraper.Scraper
	runner  *pipeline.Runner
	history *history.Store
	media   *store.Media
	metrics *metrics.Metrics
}

func (a *app) openHistory() (*history.Store, *store.Media, error) {
	media, err := store.Open(a.cfg.StorageBackend, a.cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return history.NewStore(media.Events, media.Collections, history.WithLogger(a.logger)), media, nil
}

func (a *app) newEngine() (*engine, error) {
	m := metrics.New()

	s, err := scraper.NewScraper(a.cfg, scraper.WithMetrics(m), scraper.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("initialising scraper: %w", err)
	}

	hist, media, err := a.openHistory()
	if err != nil {
		s.Close()
		return nil, err
	}

	runner, err := pipeline.NewRunner(s, a.cfg,
		pipeline.WithRecorder(hist),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(a.logger),
	)
	if err != nil {
		s.Close()
		media.Close()
		return nil, fmt.Errorf("initialising runner: %w", err)
	}

	return &engine{scraper: s, runner: runner, history: hist, media: media, metrics: m}, nil
}

func (e *engine) Close() error {
	return errors.Join(e.scraper.Close(), e.media.Close())
}

// configuredTargets builds targets from the configured page IDs and URLs.
func (a *app) configuredTargets() ([]models.Target, error) {
	var targets []models.Target
	for _, id := range a.cfg.PageIDs {
		t, err := parser.NewPageTarget(a.cfg.Country, id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	for _, u := range a.cfg.URLs {
		t, err := parser.NewURLTarget(u)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// collectionTargets turns every collection URL into a target. Collections
// whose URL no longer validates are skipped.
func collectionTargets(ctx context.Context, hist *history.Store, logger *slog.Logger) ([]models.Target, error) {
	urls, err := hist.CollectionURLs(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]models.Target, 0, len(urls))
	for _, u := range urls {
		t, err := parser.NewURLTarget(u)
		if err != nil {
			logger.Warn("skipping collection", slog.String("url", u), slog.Any("error", err))
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func startMetricsServer(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}
