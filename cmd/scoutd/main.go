package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/praxislabs/scout/internal/config"
	"github.com/praxislabs/scout/internal/interrupt"
	"github.com/praxislabs/scout/internal/preference"
	"github.com/praxislabs/scout/internal/server"
	"github.com/praxislabs/scout/internal/store"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/tools"
	"github.com/praxislabs/scout/internal/tracing"
	"github.com/praxislabs/scout/internal/workflow"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/scout.yaml"
	}

	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := zap.NewAtomicLevel()
	logger, err := buildLogger(cfg.Logging, level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Hot-reload the config file when present; only the log level takes
	// effect at runtime.
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		watcher, werr := config.NewWatcher(cfgPath, logger)
		if werr != nil {
			logger.Warn("config hot-reload disabled", zap.Error(werr))
		} else {
			defer watcher.Close()
			watcher.OnReload(func(next *config.Config) error {
				return applyLogLevel(level, next.Logging.Level)
			})
		}
	}

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	streams := stream.NewManager(cfg.Server.ReplayCapacity, logger)
	interrupts := interrupt.NewCoordinator(logger)
	gateway := tools.NewHTTPGateway(cfg.Tools, logger)

	var gate preference.Gate = preference.NopGate{}
	if cfg.Preference.Enabled {
		episodic, gerr := preference.NewEpisodicStore(cfg.Preference, chromem.NewEmbeddingFuncDefault(), logger)
		if gerr != nil {
			logger.Warn("preference gate disabled", zap.Error(gerr))
		} else {
			gate = episodic
		}
	}

	var threadStore workflow.StateStore
	switch cfg.Store.Backend {
	case "redis":
		rs, serr := store.NewRedisStore(cfg.Store.Redis, logger)
		if serr != nil {
			logger.Fatal("Failed to connect thread store", zap.Error(serr))
		}
		defer rs.Close()
		threadStore = rs
	default:
		ms := store.NewMemoryStore(cfg.Store.Memory, logger)
		defer ms.Close()
		threadStore = ms
	}

	engine := workflow.NewEngine(cfg.Workflow, gateway, gate, interrupts, streams, threadStore, logger)

	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		Heartbeat: time.Duration(cfg.Server.HeartbeatSeconds) * time.Second,
	}, engine, streams, threadStore, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}
}

func buildLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	if err := applyLogLevel(level, cfg.Level); err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func applyLogLevel(level zap.AtomicLevel, name string) error {
	if name == "" {
		name = "info"
	}
	parsed, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}
