package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rocoloco/Mobius1-sub000/pkg/api"
	"github.com/rocoloco/Mobius1-sub000/pkg/audit"
	"github.com/rocoloco/Mobius1-sub000/pkg/backend"
	"github.com/rocoloco/Mobius1-sub000/pkg/budget"
	"github.com/rocoloco/Mobius1-sub000/pkg/config"
	"github.com/rocoloco/Mobius1-sub000/pkg/deploy"
	"github.com/rocoloco/Mobius1-sub000/pkg/detector"
	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/driver/mobiusd"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/health"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/metrics"
	"github.com/rocoloco/Mobius1-sub000/pkg/orchestrator"
	"github.com/rocoloco/Mobius1-sub000/pkg/recovery"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/telemetry"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the control plane",
	Long: `Run the Mobius control plane until interrupted: the orchestrator
control loop, the REST API, and the metrics endpoint.

The control plane talks to a mobiusd node daemon, polls component
health, classifies failures, and runs bounded automatic recovery.
Configuration comes from the file given with --config plus MOBIUS_*
environment overrides; built-in defaults serve local use.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringP("config", "c", "", "Configuration file (YAML)")

	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	log.Init(log.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON, Output: os.Stderr})

	fmt.Println("Starting Mobius control plane...")
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("  Backend:        %s (driver: %s)\n", cfg.Backend.URL, cfg.Deploy.BackendType)
	fmt.Printf("  API Address:    %s\n", cfg.API.BindAddress)
	fmt.Println()

	ctx := context.Background()

	tracing, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}

	broker := events.NewBroker()
	broker.Start()

	auditLog := audit.NewRecorder(store, broker)
	auditLog.Start()

	registry := driver.NewRegistry()
	registry.Register("mobiusd", mobiusd.New)

	deployer := deploy.New(registry, broker, deploy.Config{
		BackendType: cfg.Deploy.BackendType,
		Driver: driver.Config{
			Backend: backend.Config{
				BaseURL:           cfg.Backend.URL,
				Token:             cfg.Backend.Token,
				Timeout:           cfg.Backend.Timeout.Duration,
				RequestsPerSecond: cfg.Backend.RequestsPerSecond,
				Burst:             cfg.Backend.Burst,
			},
			AllowedDomainSuffix: cfg.Deploy.AllowedDomainSuffix,
		},
	})

	tracker := budget.New(store, broker, budget.Config{
		Enabled: cfg.Budget.Enabled,
		Default: cfg.Budget,
	})

	recoverer := recovery.New(
		recovery.NewDriverExecutor(deployer.Driver, deployer.Spec),
		broker,
		recovery.Config{
			Cooldown:      cfg.Recovery.Cooldown.Duration,
			AttemptWindow: cfg.Recovery.AttemptWindow.Duration,
		},
	)

	orch, err := orchestrator.New(orchestrator.Deps{
		Deployer: deployer,
		Monitor:  health.NewMonitor(),
		Detector: detector.New(detector.Config{
			WindowSize:          cfg.Detector.WindowSize,
			ConsecutiveRequired: cfg.Detector.ConsecutiveRequired,
			ResponseTimeLimit:   cfg.Detector.ResponseTimeLimit.Duration,
		}),
		Recovery: recoverer,
		Budget:   tracker,
		Store:    store,
		Broker:   broker,
	}, orchestrator.Config{
		PollInterval:   cfg.Orchestrator.PollInterval.Duration,
		DisablePolling: cfg.Orchestrator.DisablePolling,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create orchestrator: %v", err)
	}

	promMetrics := metrics.New()
	observer := metrics.NewObserver(promMetrics, broker, orch, 0)
	observer.Start()

	if err := orch.Start(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to start orchestrator: %v", err)
	}
	fmt.Println("✓ Orchestrator started")

	apiServer, err := api.New(api.Deps{
		Control: orch,
		Store:   store,
		Broker:  broker,
		Audit:   auditLog,
		Metrics: promMetrics,
	}, api.Config{
		BindAddress: cfg.API.BindAddress,
		AuthToken:   cfg.API.AuthToken,
		Version:     Version,
	})
	if err != nil {
		orch.Stop()
		store.Close()
		return fmt.Errorf("failed to create API server: %v", err)
	}
	if err := apiServer.Start(); err != nil {
		orch.Stop()
		store.Close()
		return fmt.Errorf("failed to start API server: %v", err)
	}
	fmt.Printf("✓ API listening on %s\n", cfg.API.BindAddress)

	// Hot-reload budget defaults on config file changes.
	var watcher *config.Watcher
	if cfgPath != "" {
		watcher = config.NewWatcher(cfgPath, cfg, func(next *config.Config) {
			tracker.SetDefault(next.Budget)
		})
		if err := watcher.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: config watcher disabled: %v\n", err)
			watcher = nil
		} else {
			fmt.Println("✓ Config watcher started")
		}
	}

	fmt.Println()
	fmt.Println("Control plane is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	if watcher != nil {
		watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: API shutdown: %v\n", err)
	}
	orch.Stop()
	observer.Stop()
	tracker.Stop()
	auditLog.Stop()
	broker.Stop()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: telemetry shutdown: %v\n", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
