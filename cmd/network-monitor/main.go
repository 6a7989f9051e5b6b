package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/network-monitor/internal/config"
	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/server"
	"github.com/zsiec/network-monitor/internal/store"
	"github.com/zsiec/network-monitor/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting network monitor")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Network monitor stopped with an error")
	}
	log.Info("Network monitor shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		redisClient redis.UniversalClient
		counts      store.CountStore
	)
	if cfg.Redis.Enabled {
		redisClient = newRedisClient(cfg.Redis)
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()

		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
		err := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("Connected to Redis successfully")

		counts = store.NewRedisStore(redisClient, logger.FromLogrus(log, "store"), cfg.Redis.KeyPrefix, cfg.Monitor.Events.HistorySize)
	} else {
		log.Warn("Redis disabled, passenger counts will not survive a restart")
		counts = store.NewMemoryStore(cfg.Monitor.Events.HistorySize)
	}

	mon, err := monitor.New(cfg.Monitor, monitor.Options{
		Store:  counts,
		Logger: logger.FromLogrus(log, "monitor"),
	})
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	srv := server.New(&cfg.Server, log, mon, redisClient)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return runMetricsServer(gctx, cfg.Metrics, log)
		})
	}

	err = g.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if stopErr := mon.Stop(stopCtx); stopErr != nil {
		log.WithError(stopErr).Error("Failed to stop monitor cleanly")
	}
	return err
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

// runMetricsServer serves Prometheus metrics until ctx is done.
func runMetricsServer(ctx context.Context, cfg config.MetricsConfig, log *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
