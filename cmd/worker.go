package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background jobs",
	Long:  `Run the payment reconciler, fulfillment resumer, notification retries, subscription enforcement and provider selection refresh`,
	Run: func(cmd *cobra.Command, args []string) {
		startWorker()
	},
}

var (
	batchSize int
	runOnce   bool
)

// job is one periodic task of the worker process.
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func startWorker() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	jobs := workerJobs(deps, getIntFlag(batchSize, deps.Config.Worker.BatchSize))
	lg := deps.Logger

	if runOnce {
		for _, j := range jobs {
			runJob(ctx, lg, j)
		}
		return
	}

	lg.Info("worker is running. Press Ctrl+C to stop.", "jobs", len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				runJob(ctx, lg, j)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}(j)
	}

	<-ctx.Done()
	lg.Info("received signal, shutting down worker")
	wg.Wait()
	lg.Info("worker shutdown complete")
}

func workerJobs(deps *Dependencies, limit int) []job {
	w := deps.Config.Worker
	return []job{
		{
			name:     "expire_stale_payments",
			interval: orDefault(w.ReconcileInterval, time.Minute),
			run: func(ctx context.Context) error {
				n, err := deps.Payments.ExpireStale(ctx, limit)
				logCount(deps.Logger, "stale payments expired", n)
				return err
			},
		},
		{
			name:     "resume_fulfillment",
			interval: orDefault(w.ResumeInterval, 30*time.Second),
			run: func(ctx context.Context) error {
				n, err := deps.Fulfillment.ResumePending(ctx, orDefault(w.ResumeAfter, time.Minute), limit)
				logCount(deps.Logger, "fulfillments resumed", n)
				return err
			},
		},
		{
			name:     "retry_notifications",
			interval: orDefault(w.NotificationInterval, 30*time.Second),
			run: func(ctx context.Context) error {
				n, err := deps.Notifier.RetryPending(ctx, limit)
				logCount(deps.Logger, "notifications retried", n)
				return err
			},
		},
		{
			name:     "enforce_subscriptions",
			interval: orDefault(w.SubscriptionInterval, time.Hour),
			run: func(ctx context.Context) error {
				res, err := deps.Catalog.EnforceSubscriptions(ctx, orDefault(w.ExpiryWarningWindow, 72*time.Hour))
				if err == nil && (res.Deactivated > 0 || res.Warned > 0) {
					deps.Logger.Info("subscriptions enforced", "deactivated", res.Deactivated, "warned", res.Warned)
				}
				return err
			},
		},
		{
			name:     "refresh_provider_selection",
			interval: orDefault(deps.Config.Payment.ProviderRefresh, 15*time.Second),
			run:      deps.Selector.Refresh,
		},
	}
}

func runJob(ctx context.Context, lg *slog.Logger, j job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := j.run(ctx); err != nil {
		lg.Error("worker job failed", "job", j.name, "error", err, "elapsed", time.Since(start))
		return
	}
	lg.Debug("worker job finished", "job", j.name, "elapsed", time.Since(start))
}

func logCount(lg *slog.Logger, msg string, n int) {
	if n > 0 {
		lg.Info(msg, "count", n)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	workerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows handled per job run (overrides config)")
	workerCmd.Flags().BoolVar(&runOnce, "once", false, "Run every job once and exit")

	rootCmd.AddCommand(workerCmd)
}
