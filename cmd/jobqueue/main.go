package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tylerchilds/jobqueue/internal/config"
	"github.com/tylerchilds/jobqueue/internal/lease"
	"github.com/tylerchilds/jobqueue/internal/migrate"
	"github.com/tylerchilds/jobqueue/internal/ratelimit"
	"github.com/tylerchilds/jobqueue/internal/reaper"
	"github.com/tylerchilds/jobqueue/internal/store"
	"github.com/tylerchilds/jobqueue/internal/submit"
	"github.com/tylerchilds/jobqueue/internal/telemetry"
	"github.com/tylerchilds/jobqueue/internal/worker"
)

var version = "0.1.0-dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "jobqueue",
		Short: "A multi-tenant, PostgreSQL-backed distributed job queue",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional JSON or YAML config file")

	rootCmd.AddCommand(
		versionCmd(),
		migrateCmd(&configPath),
		submitCmd(&configPath),
		workerCmd(&configPath),
		reaperCmd(&configPath),
		statsCmd(&configPath),
		reviveCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(map[string]interface{}{"version": version, "go": "1.23"})
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("database_url is required (set JOBQUEUE_DATABASE_URL or a config file)")
	}
	pool, err := store.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	if err != nil {
		return nil, nil, err
	}
	return store.New(pool), pool.Close, nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded SQL migrations against database_url",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if cfg.DatabaseURL == "" {
				return printErrorJSON(fmt.Errorf("database_url is required"))
			}
			pool, err := store.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
			if err != nil {
				return printErrorJSON(err)
			}
			defer pool.Close()
			if err := migrate.Run(ctx, pool); err != nil {
				return printErrorJSON(err)
			}
			return printJSON(map[string]interface{}{"ok": true})
		},
	}
}

func submitCmd(configPath *string) *cobra.Command {
	var tenant, key, jobType, payload, priority string
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Validate and persist a new job submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			ctx := context.Background()
			s, closePool, err := openStore(ctx, cfg)
			if err != nil {
				return printErrorJSON(err)
			}
			defer closePool()

			limiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.Burst(), 15*time.Minute)
			sub := submit.New(s, limiter).WithTelemetry(telemetry.New())

			job, created, err := sub.Submit(ctx, submit.Request{
				TenantID:       tenant,
				IdempotencyKey: key,
				JobType:        jobType,
				Payload:        json.RawMessage(payload),
				Priority:       store.Priority(priority),
				MaxAttempts:    maxAttempts,
			})
			var rateLimited *submit.RateLimitedError
			if errors.As(err, &rateLimited) {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				_ = encoder.Encode(map[string]interface{}{
					"ok":                  false,
					"error":               rateLimited.Error(),
					"retry_after_seconds": rateLimited.RetryAfter.Seconds(),
				})
				return rateLimited
			}
			if err != nil {
				return printErrorJSON(err)
			}
			return printJSON(map[string]interface{}{"ok": true, "created": created, "job": job})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (required)")
	cmd.Flags().StringVar(&jobType, "type", "", "job type discriminator (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	cmd.Flags().StringVar(&priority, "priority", string(store.PriorityNormal), "priority: critical|high|normal|low")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "maximum execution attempts (1-100)")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run worker subcommands",
	}
	workerCmd.AddCommand(workerRunCmd(configPath))
	return workerCmd
}

func workerRunCmd(configPath *string) *cobra.Command {
	var batchSize, maxInFlight int
	var leaseDuration time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker process until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			if batchSize > 0 {
				cfg.WorkerBatchSize = batchSize
			}
			if maxInFlight > 0 {
				cfg.WorkerMaxInFlight = maxInFlight
			}
			if leaseDuration > 0 {
				cfg.LeaseDuration = leaseDuration
			}

			ctx, cancel := signalContext()
			defer cancel()

			s, closePool, err := openStore(ctx, cfg)
			if err != nil {
				return printErrorJSON(err)
			}
			defer closePool()

			tel := telemetry.New()
			leaseMgr := lease.New(s, lease.Config{
				WorkerID:               cfg.WorkerID,
				BatchSize:              cfg.WorkerBatchSize,
				LeaseDuration:          cfg.LeaseDuration,
				HeartbeatFraction:      cfg.HeartbeatFraction,
				PollIntervalMin:        cfg.PollIntervalMin,
				PollIntervalMax:        cfg.PollIntervalMax,
				TenantConcurrencyLimit: cfg.TenantConcurrencyLimit,
			})

			w := worker.New(s, leaseMgr, tel, worker.Config{
				MaxInFlight: cfg.WorkerMaxInFlight,
				GracePeriod: cfg.GracePeriod,
			})
			w.RegisterHandler("echo", worker.Echo)

			start := time.Now()
			stats, err := w.Run(ctx)
			if err != nil {
				return printErrorJSON(err)
			}
			return printJSON(map[string]interface{}{
				"ok":            true,
				"worker_id":     cfg.WorkerID,
				"duration_secs": time.Since(start).Seconds(),
				"succeeded":     stats.Succeeded,
				"retried":       stats.Retried,
				"dead_lettered": stats.DeadLettered,
				"lease_lost":    stats.LeaseLost,
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override worker_batch_size")
	cmd.Flags().IntVar(&maxInFlight, "max-in-flight", 0, "override worker_max_in_flight")
	cmd.Flags().DurationVar(&leaseDuration, "lease-duration", 0, "override lease_duration")
	return cmd
}

func reaperCmd(configPath *string) *cobra.Command {
	reaperCmd := &cobra.Command{
		Use:   "reaper",
		Short: "Run reaper subcommands",
	}
	reaperCmd.AddCommand(reaperRunCmd(configPath))
	return reaperCmd
}

func reaperRunCmd(configPath *string) *cobra.Command {
	var interval time.Duration
	var batchSize int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the lease-expiry reaper until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			if interval > 0 {
				cfg.ReaperInterval = interval
			}
			if batchSize > 0 {
				cfg.ReaperBatch = batchSize
			}

			ctx, cancel := signalContext()
			defer cancel()

			s, closePool, err := openStore(ctx, cfg)
			if err != nil {
				return printErrorJSON(err)
			}
			defer closePool()

			r := reaper.New(s, telemetry.New(), reaper.Config{
				Interval:  cfg.ReaperInterval,
				BatchSize: cfg.ReaperBatch,
			})
			r.Run(ctx)
			return printJSON(map[string]interface{}{"ok": true})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "override reaper_interval")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override reaper_batch")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print job counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			ctx := context.Background()
			s, closePool, err := openStore(ctx, cfg)
			if err != nil {
				return printErrorJSON(err)
			}
			defer closePool()

			counts, err := s.CountsByState(ctx, tenant)
			if err != nil {
				return printErrorJSON(err)
			}
			return printJSON(map[string]interface{}{"ok": true, "counts_by_state": counts})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict counts to one tenant")
	return cmd
}

func reviveCmd(configPath *string) *cobra.Command {
	var resetAttempts bool
	cmd := &cobra.Command{
		Use:   "revive <job-id>",
		Short: "Move a dead-lettered job back to queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return printErrorJSON(fmt.Errorf("invalid job id: %w", err))
			}

			cfg := config.Load(*configPath)
			ctx := context.Background()
			s, closePool, err := openStore(ctx, cfg)
			if err != nil {
				return printErrorJSON(err)
			}
			defer closePool()

			job, err := s.ReviveFromDeadLetter(ctx, id, resetAttempts)
			if err != nil {
				return printErrorJSON(err)
			}
			return printJSON(map[string]interface{}{"ok": true, "job": job})
		},
	}
	cmd.Flags().BoolVar(&resetAttempts, "reset-attempts", false, "reset the attempt counter to 0")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func printErrorJSON(err error) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(map[string]interface{}{"ok": false, "error": err.Error()})
	return err
}
