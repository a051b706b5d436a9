package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
	"github.com/aluiziolira/go-adwatch/parser"
	"github.com/aluiziolira/go-adwatch/scheduler"
	"github.com/aluiziolira/go-adwatch/scraper"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the batch on the configured cadence until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			targets, err := a.configuredTargets()
			if err != nil {
				return err
			}
			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					a.logger.Error("close engine", slog.Any("error", err))
				}
			}()

			stopMetrics := startMetricsServer(a.cfg.MetricsAddr, eng.metrics, a.logger)
			defer stopMetrics()

			sched := scheduler.New(eng.runner,
				scheduler.WithTargetSource(func(ctx context.Context) ([]models.Target, error) {
					return collectionTargets(ctx, eng.history, a.logger)
				}),
				scheduler.WithMetrics(eng.metrics),
				scheduler.WithLogger(a.logger),
			)
			if err := sched.Start(a.cfg.Cadence, targets, a.cfg.Country); err != nil {
				return err
			}

			if runNow {
				extra, err := collectionTargets(ctx, eng.history, a.logger)
				if err != nil {
					a.logger.Warn("resolve collections", slog.Any("error", err))
				}
				if _, err := sched.RunOnce(ctx, append(targets, extra...), a.cfg.Country); err != nil {
					a.logger.Error("initial batch failed", slog.Any("error", err))
				}
			}

			st := sched.Status()
			a.logger.Info("serving",
				slog.String("cadence", st.Cadence),
				slog.Time("next_run", st.NextRun),
			)

			<-ctx.Done()
			a.logger.Info("shutdown signal received, waiting for in-flight batch to finish")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.PipelineTimeout)
			defer cancel()
			if err := sched.Close(shutdownCtx); err != nil {
				a.logger.Warn("scheduler shutdown", slog.Any("error", err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.cfg.Cadence, "cadence", a.cfg.Cadence, "Cron expression of the recurring batch")
	cmd.Flags().StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run one batch immediately after starting")
	return cmd
}

func newOnceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single batch over the configured targets and collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			targets, err := a.configuredTargets()
			if err != nil {
				return err
			}
			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			extra, err := collectionTargets(ctx, eng.history, a.logger)
			if err != nil {
				return err
			}
			targets = append(targets, extra...)
			if len(targets) == 0 {
				return fmt.Errorf("no targets: set --page-ids, --urls or add a collection")
			}

			res, err := eng.runner.RunBatch(ctx, targets, a.cfg.Country)
			if res != nil {
				printSummary(res, len(targets))
			}
			return err
		},
	}
}

func newCountCmd(a *app) *cobra.Command {
	var rawURL, pageID string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Extract the active ad count of one target",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				target models.Target
				err    error
			)
			switch {
			case rawURL != "" && pageID != "":
				return fmt.Errorf("use either --url or --page-id")
			case rawURL != "":
				target, err = parser.NewURLTarget(rawURL)
			case pageID != "":
				target, err = parser.NewPageTarget(a.cfg.Country, pageID)
			default:
				return fmt.Errorf("--url or --page-id is required")
			}
			if err != nil {
				return err
			}

			s, err := scraper.NewScraper(a.cfg, scraper.WithLogger(a.logger))
			if err != nil {
				return fmt.Errorf("initialising scraper: %w", err)
			}
			defer s.Close()

			start := time.Now()
			res, err := s.ExtractCount(cmd.Context(), target)
			a.logger.Debug("extraction finished",
				slog.String("target", target.String()),
				slog.Duration("duration", time.Since(start)),
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "Ads library URL")
	cmd.Flags().StringVar(&pageID, "page-id", "", "Page ID, combined with --country")
	return cmd
}

func printSummary(res *models.BatchResult, targets int) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Batch complete")
	fmt.Printf("  Targets:       %d\n", targets)
	fmt.Printf("  Events:        %d\n", len(res.Events))
	fmt.Printf("  Failed:        %d\n", res.Failed)
	if res.LastError != "" {
		fmt.Printf("  Last error:    %s\n", res.LastError)
	}
	fmt.Printf("  Duration:      %v\n", res.EndTime.Sub(res.StartTime))
	fmt.Println(separator)
}
