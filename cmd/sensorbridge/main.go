package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/oarkflow/log"
	"github.com/robfig/cron/v3"

	"github.com/oarkflow/sensorbridge/pkg/broker"
	"github.com/oarkflow/sensorbridge/pkg/config"
	"github.com/oarkflow/sensorbridge/pkg/entity"
	"github.com/oarkflow/sensorbridge/pkg/pipeline"
	"github.com/oarkflow/sensorbridge/pkg/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config (env-only when empty)")
	flag.Parse()

	logger := &log.DefaultLogger

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	// One pipeline instance per host; a second start exits instead of
	// double-writing the same sweep.
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		logger.Error().Err(err).Str("lock", cfg.LockFile).Msg("another sensorbridge instance holds the lock")
		os.Exit(1)
	}
	defer lock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdownOnSignal(cancel, logger)

	fetcher := broker.New(cfg.Broker.Host, cfg.Broker.Port,
		broker.WithTimeout(time.Duration(cfg.Broker.TimeoutMS)*time.Millisecond),
		broker.WithLogger(logger))

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not open store connection")
		os.Exit(1)
	}
	defer store.Close()

	provisioner := storage.NewProvisioner(store, storage.DefaultProvisionPolicy, logger)
	pipe := pipeline.New(fetcher, store, provisioner, cfg.EntityTypes, cfg.BatchSize,
		pipeline.WithLogger(logger),
		pipeline.WithParser(entity.NewParser(logger)))

	total, err := pipe.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline run failed")
		os.Exit(1)
	}
	logger.Info().Int("total", total).Int64("dedup_hits", store.DedupHits()).Msg("initial sweep finished")

	go func() {
		if err := pipe.Serve(cfg.HTTPAddr); err != nil {
			logger.Error().Err(err).Str("addr", cfg.HTTPAddr).Msg("status server stopped")
		}
	}()

	if cfg.ResweepSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.ResweepSchedule, func() {
			if _, err := pipe.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduled sweep failed")
			}
		}); err != nil {
			logger.Error().Err(err).Str("schedule", cfg.ResweepSchedule).Msg("invalid resweep schedule")
			os.Exit(2)
		}
		c.Start()
		defer c.Stop()
		logger.Info().Str("schedule", cfg.ResweepSchedule).Msg("periodic re-sweep enabled")
	}

	// Idle state: stay alive for external supervision. Without a schedule
	// no further sweep is triggered automatically.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		case <-ticker.C:
			logger.Info().Bool("sweeping", pipe.Running()).Msg("idle")
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// openStore retries session creation through the same window the schema
// provisioner tolerates: a cluster that is still starting up refuses
// connections long before it refuses schema changes.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*storage.Store, error) {
	var store *storage.Store
	err := storage.DefaultProvisionPolicy.Do(ctx, logger, "open store", func() error {
		var err error
		store, err = storage.Open(cfg.Store, logger)
		return err
	})
	return store, err
}

func shutdownOnSignal(cancel context.CancelFunc, logger *log.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("received signal, initiating graceful shutdown")
		cancel()
	}()
}
