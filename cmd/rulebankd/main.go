// Rulebankd is the experience knowledge base daemon.
//
// It serves the rule store, candidate workflow, auto-harvester, and
// telemetry substrate over HTTP, and persists the store to a snapshot file
// across restarts.
//
// Configuration is loaded from an optional YAML file plus RULEBANK_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	rulebankd
//
//	# Configure via file and environment
//	rulebankd -config rulebank.yaml
//	RULEBANK_SERVER_PORT=9000 rulebankd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulebank/internal/config"
	"github.com/fyrsmithlabs/rulebank/internal/httpapi"
	"github.com/fyrsmithlabs/rulebank/internal/logging"
	"github.com/fyrsmithlabs/rulebank/internal/rulebank"
	"github.com/fyrsmithlabs/rulebank/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rulebankd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// operatingState is the mode the write paths consult; anything other than
// "sleeping" accepts writes.
type operatingState struct {
	v atomic.Value
}

func newOperatingState(initial string) *operatingState {
	s := &operatingState{}
	s.v.Store(initial)
	return s
}

func (s *operatingState) CurrentState() string {
	return s.v.Load().(string)
}

// run initializes all dependencies and blocks until ctx is cancelled:
//  1. Loads and validates configuration
//  2. Initializes the OTel provider and logger
//  3. Builds the telemetry substrate, rule store, and harvester
//  4. Loads the snapshot from disk
//  5. Starts the config watcher, harvest scheduler, and HTTP server
//  6. On shutdown, stops everything and saves the snapshot
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.ProviderConfig{
		Enabled:        cfg.Observability.EnableTelemetry,
		Endpoint:       cfg.Observability.Endpoint,
		Protocol:       cfg.Observability.Protocol,
		Insecure:       cfg.Observability.Insecure,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		ExportInterval: int(cfg.Observability.ExportInterval.Duration().Seconds()),
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry provider: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry
	logger, err := logging.New(logCfg, provider.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting rulebankd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("snapshot_path", cfg.Snapshot.Path),
		zap.Bool("telemetry", cfg.Observability.EnableTelemetry),
		zap.Bool("telemetry_degraded", provider.IsDegraded()),
	)

	substrate := telemetry.NewSubstrate(
		telemetry.WithMeter(provider.Meter("github.com/fyrsmithlabs/rulebank/internal/telemetry")),
	)

	state := newOperatingState("awake")
	substrate.SetLabel("state", state.CurrentState())

	store := rulebank.NewStore(
		rulebank.WithObserver(substrate),
		rulebank.WithStateProvider(state),
	)

	loaded, err := rulebank.LoadSnapshot(store, cfg.Snapshot.Path)
	if err != nil {
		// A corrupt snapshot must not block startup; the store starts
		// empty and the bad file is overwritten on the next save.
		logger.Warn("snapshot load failed, starting empty",
			zap.String("path", cfg.Snapshot.Path), zap.Error(err))
	} else {
		logger.Info("snapshot loaded",
			zap.Int("rules", loaded), zap.String("path", cfg.Snapshot.Path))
	}

	harvester := rulebank.NewHarvester(store, substrate, substrate, rulebank.HarvestConfig{
		Enabled:       cfg.Harvest.Enabled,
		MinCount:      cfg.Harvest.MinCount,
		IncludeLevels: cfg.Harvest.IncludeLevels,
		SinceSeconds:  cfg.Harvest.SinceSeconds,
		MinConfidence: cfg.Harvest.MinConfidence,
		MaxCandidates: cfg.Harvest.MaxCandidates,
		MinSamples:    cfg.Harvest.MinSamples,
	})

	// Hot-reload the harvest thresholds when the config file changes.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			harvester.SetConfig(rulebank.HarvestConfig{
				Enabled:       next.Harvest.Enabled,
				MinCount:      next.Harvest.MinCount,
				IncludeLevels: next.Harvest.IncludeLevels,
				SinceSeconds:  next.Harvest.SinceSeconds,
				MinConfidence: next.Harvest.MinConfidence,
				MaxCandidates: next.Harvest.MaxCandidates,
				MinSamples:    next.Harvest.MinSamples,
			})
			logger.Info("harvest config reloaded from file")
		})
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			if err := watcher.Start(); err != nil {
				logger.Warn("config watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}
	}

	var scheduler *rulebank.HarvestScheduler
	if cfg.Harvest.Interval > 0 {
		scheduler, err = rulebank.NewHarvestScheduler(harvester, logger,
			rulebank.WithHarvestInterval(cfg.Harvest.Interval.Duration()))
		if err != nil {
			return fmt.Errorf("create harvest scheduler: %w", err)
		}
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start harvest scheduler: %w", err)
		}
	}

	server, err := httpapi.NewServer(store, harvester, substrate, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	// Prometheus scrape endpoint: default runtime collectors plus the
	// substrate's counters and gauges.
	registry := prometheus.NewRegistry()
	registry.MustRegister(telemetry.NewCollector(substrate))
	server.Echo().GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Gate writes while flushing so the snapshot is a stable cut.
	state.v.Store("sleeping")
	substrate.SetLabel("state", "sleeping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	if err := rulebank.SaveSnapshot(store, cfg.Snapshot.Path); err != nil {
		logger.Error("snapshot save failed", zap.String("path", cfg.Snapshot.Path), zap.Error(err))
	} else {
		logger.Info("snapshot saved",
			zap.Int("rules", store.Stats().Total), zap.String("path", cfg.Snapshot.Path))
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := provider.ForceFlush(flushCtx); err != nil {
		logger.Warn("telemetry flush failed", zap.Error(err))
	}
	if err := provider.Shutdown(flushCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}

	return nil
}
