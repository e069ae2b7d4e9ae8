package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/batch"
	"github.com/teranos/remit/secret"
	"github.com/teranos/remit/sym"
)

const cacheSweepSpec = "@every 5m"

// PulseCmd groups the settlement daemon commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the settlement daemon",
	Long: sym.Pulse + ` Pulse settles recurring transfers.

Each pass selects active, verified schedules that are due, claims each one,
moves the value through the ledger and advances the schedule to its next
occurrence. Failures are retried on the configured delay table and pause
the schedule once retries are exhausted.

Example:
  remit pulse start        # Run passes on the configured cron spec
  remit pulse run-once     # Run one pass and print its statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd runs the daemon in the foreground
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the settlement daemon",
	Long: `Start the settlement daemon in foreground mode.

The daemon will:
- Trigger a pass on the pulse.schedule cron spec
- Reload batch and retry settings when the config file changes
- Print each outcome as it happens with --follow
- Run until interrupted (Ctrl+C), finishing the pass in flight`,
	RunE: runPulseStart,
}

// PulseRunOnceCmd runs a single pass
var PulseRunOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run one settlement pass",
	RunE:  runPulseRunOnce,
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	spec, _ := cmd.Flags().GetString("schedule")
	if spec == "" {
		spec = a.cfg.Pulse.Schedule
	}
	ticker, err := batch.NewTickerWithContext(ctx, a.runner, spec, logger.ComponentLogger("pulse"))
	if err != nil {
		return err
	}

	// lazily expired PINs would otherwise stay in memory until next read
	if mem, ok := a.cache.(*secret.MemoryCache); ok {
		err := ticker.Every(cacheSweepSpec, "secret-sweep", func(context.Context) {
			if n := mem.Sweep(); n > 0 {
				logger.ComponentLogger("secret").Debugw("Swept expired PINs", logger.FieldCount, n)
			}
		})
		if err != nil {
			return err
		}
	}

	watcher := watchConfig(a)

	var followed <-chan struct{}
	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		followed = followBus(ctx, a.bus)
	}

	ticker.Start()

	cfg := a.runner.Config()
	pterm.Success.Printf("%s Pulse daemon started\n", sym.Pulse)
	fmt.Printf("  Schedule:    %s\n", ticker.GetStats()["schedule"])
	fmt.Printf("  Batch size:  %d\n", cfg.BatchSize)
	fmt.Printf("  Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("  Claim lease: %v\n", cfg.ClaimLease)
	if a.limiter.Unlimited() {
		fmt.Printf("  Mover calls: unlimited\n")
	} else {
		fmt.Printf("  Mover calls: %d/min\n", a.cfg.Pulse.MoverCallsPerMinute)
	}
	fmt.Printf("  Database:    %s\n", a.cfg.GetDatabasePath())
	if a.telemetry.Enabled() {
		fmt.Printf("  Telemetry:   OTLP to %s every %ds\n", a.cfg.Telemetry.Endpoint, a.cfg.Telemetry.IntervalSeconds)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Stopping after the pass in flight...\n", sym.Pulse)

	ticker.Stop()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}
	cancel()
	if followed != nil {
		<-followed
	}

	if dropped := a.bus.Dropped(); dropped > 0 {
		logger.Logger.Warnw("Slow event subscribers missed events", logger.FieldCount, dropped)
	}
	fmt.Printf("%s Pulse daemon stopped\n", sym.Pulse)
	return nil
}

// watchConfig reloads batch and retry settings on config file changes.
// Returns nil when running on defaults only.
func watchConfig(a *app) *am.ConfigWatcher {
	path := am.ActiveConfigPath()
	if path == "" {
		return nil
	}
	log := logger.ComponentLogger("am")
	watcher, err := am.NewConfigWatcher(path, log)
	if err != nil {
		log.Warnw("Config reload disabled", "path", path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		policy, err := retryPolicy(cfg)
		if err != nil {
			return err
		}
		a.retry.SetPolicy(policy)
		a.runner.SetConfig(batchConfig(cfg))
		log.Infow("Applied config reload",
			logger.FieldBatchSize, cfg.Pulse.BatchSize,
			"concurrency", cfg.Pulse.Concurrency,
			"max_attempts", policy.MaxAttempts)
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()
	return watcher
}

func runPulseRunOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if limit, _ := cmd.Flags().GetInt("batch-size"); limit > 0 {
		cfg := a.runner.Config()
		cfg.BatchSize = limit
		a.runner.SetConfig(cfg)
	}

	stats, err := a.runner.RunOnce(ctx)
	if err != nil {
		return err
	}

	pterm.Info.Printf("Pass %s finished in %v\n", stats.RunID, stats.Elapsed.Round(time.Millisecond))
	pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Selected", "Settled", "Failed", "Retrying", "Auto-paused", "Paused", "Skipped", "Reaped"},
		{
			fmt.Sprint(stats.Selected), fmt.Sprint(stats.Processed), fmt.Sprint(stats.Failed),
			fmt.Sprint(stats.Retried), fmt.Sprint(stats.AutoPaused), fmt.Sprint(stats.Paused),
			fmt.Sprint(stats.Skipped), fmt.Sprint(stats.Reaped),
		},
	}).Render()
	return nil
}

func init() {
	PulseStartCmd.Flags().String("schedule", "", "Cron spec for passes (overrides pulse.schedule)")
	PulseStartCmd.Flags().Bool("follow", false, "Print each settlement outcome as it happens")
	PulseRunOnceCmd.Flags().Int("batch-size", 0, "Max schedules for this pass (overrides pulse.batch_size)")

	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(PulseRunOnceCmd)
}
