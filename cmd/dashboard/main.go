package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/igwedaniel/sharkmon/internal/api"
	"github.com/igwedaniel/sharkmon/internal/apiclient"
	"github.com/igwedaniel/sharkmon/internal/config"
	"github.com/igwedaniel/sharkmon/internal/datasource"
	"github.com/igwedaniel/sharkmon/internal/messaging"
	"github.com/igwedaniel/sharkmon/internal/render"
	"github.com/igwedaniel/sharkmon/internal/scheduler"
	"github.com/igwedaniel/sharkmon/internal/storage"
	"github.com/igwedaniel/sharkmon/internal/viewstate"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		var missing *config.MissingError
		if errors.As(err, &missing) {
			fmt.Fprintf(os.Stderr, "Configuration incomplete: %v\n", err)
			fmt.Fprintln(os.Stderr, "Set them in config/config.yaml or via MININGCORE_API_URL and SIGSCORE_API_URL.")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		}
		os.Exit(1)
	}

	// The terminal belongs to the dashboard, so logs go to a file
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger.Info("Starting SharkPool dashboard")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := setupStorage(ctx, cfg, logger)
	defer store.Close()

	publisher := setupPublisher(cfg, logger)
	defer publisher.Close()

	client, err := apiclient.New(apiclient.Options{
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
		UserAgent: cfg.API.UserAgent,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create API client: %v", err)
	}

	pool, err := datasource.NewPoolSource(client, cfg.API.MiningcoreURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid api.miningcore_url: %v\n", err)
		os.Exit(1)
	}
	miners, err := datasource.NewMinerSource(client, cfg.API.SigscoreURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid api.sigscore_url: %v\n", err)
		os.Exit(1)
	}
	miners.SetBlockLookup(pool)
	miners.SetStatsFallback(pool)

	state := viewstate.New()
	sched := scheduler.New(pool, miners, state, store, publisher, logger, scheduler.Config{
		PoolInterval:        cfg.Refresh.Interval,
		LeaderboardInterval: cfg.Refresh.LeaderboardInterval,
		HealthCheckInterval: cfg.Refresh.HealthInterval,
		FetchTimeout:        cfg.API.Timeout,
		LeaderboardSize:     cfg.Refresh.LeaderboardSize,
		DefaultAddress:      cfg.Dashboard.DefaultAddress,
	})

	var apiServer *api.Server
	if cfg.Server.Port > 0 {
		apiServer = api.NewServer(&cfg.Server, sched, state, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Errorf("HTTP server error: %v", err)
			}
		}()
	}

	if err := sched.Start(ctx); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	if cfg.Dashboard.Splash {
		fmt.Print(render.Splash(cfg.Dashboard.PoolName))
		select {
		case <-time.After(cfg.Dashboard.SplashDuration):
		case <-ctx.Done():
		}
	}

	model := render.NewModel(state, sched, render.Options{
		PoolName:         cfg.Dashboard.PoolName,
		StratumHost:      cfg.Dashboard.StratumHost,
		StratumPort:      cfg.Dashboard.StratumPort,
		PoolFeePercent:   cfg.Dashboard.PoolFeePercent,
		PaymentThreshold: cfg.Dashboard.PaymentThreshold,
		MaxStaleness:     cfg.Refresh.MaxStaleness,
		LeaderboardSize:  cfg.Refresh.LeaderboardSize,
		Animation:        cfg.Dashboard.Animation,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := render.Subscribe(state, program)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Errorf("Dashboard error: %v", err)
	}
	unsubscribe()
	logger.Info("Dashboard closed, shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Errorf("Error stopping API server: %v", err)
		}
	}

	if err := sched.Stop(); err != nil {
		logger.Errorf("Error stopping scheduler: %v", err)
	}

	logger.Info("SharkPool dashboard stopped")
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *logrus.Logger) storage.Storage {
	if cfg.Redis.URL == "" {
		logger.Info("No redis.url configured, caching snapshots in memory")
		return storage.NewInMemoryStorage(cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL)
	}

	redisStorage, err := storage.NewRedisStorage(&cfg.Redis, logger)
	if err != nil {
		logger.Warnf("Failed to initialize redis storage, caching in memory: %v", err)
		return storage.NewInMemoryStorage(cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL)
	}
	if err := redisStorage.Ping(ctx); err != nil {
		logger.Warnf("Redis unreachable, caching in memory: %v", err)
		redisStorage.Close()
		return storage.NewInMemoryStorage(cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL)
	}
	logger.Info("Storage connection established")
	return redisStorage
}

func setupPublisher(cfg *config.Config, logger *logrus.Logger) messaging.Publisher {
	if cfg.RabbitMQ.URL == "" {
		return &messaging.NoOpPublisher{}
	}
	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		logger.Warnf("Failed to initialize messaging, feed events disabled: %v", err)
		return &messaging.NoOpPublisher{}
	}
	logger.Info("Messaging system initialized")
	return publisher
}

func setupLogger(cfg config.LoggingConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
			DisableColors:   true,
		})
	}

	switch cfg.File {
	case "":
		logger.SetOutput(io.Discard)
		return logger, func() {}, nil
	case "-":
		logger.SetOutput(os.Stderr)
		return logger, func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(f)
	return logger, func() { f.Close() }, nil
}
