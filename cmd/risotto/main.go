// Command risotto runs the BMP collector: it accepts router connections,
// decodes and deduplicates their BGP state, and publishes normalized
// updates to Kafka (spec.md §6, "the process CLI and configuration
// loader").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/risotto/internal/collector"
	"github.com/route-beacon/risotto/internal/config"
	"github.com/route-beacon/risotto/internal/httpd"
	"github.com/route-beacon/risotto/internal/kafka"
	"github.com/route-beacon/risotto/internal/metrics"
	"github.com/route-beacon/risotto/internal/session"
	"github.com/route-beacon/risotto/internal/snapshot"
)

func main() {
	configPath, logLevelOverride := parseFlags(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("risotto: fatal startup error", zap.Error(err))
	}
}

func parseFlags(args []string) (configPath, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		}
	}
	return
}

func printUsage() {
	fmt.Println("Usage: risotto [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>     Path to configuration YAML file")
	fmt.Println("  --log-level <lvl>   Override log level (debug, info, warn, error)")
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func run(cfg *config.Config, logger *zap.Logger) error {
	metrics.Register()

	logger.Info("starting risotto",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("bmp_listen", cfg.Service.BMPListen),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	index := collector.NewIndex(cfg.State.Enabled)

	snapEngine, err := snapshot.NewEngine(index, cfg.Snapshot.Path, time.Duration(cfg.Snapshot.IntervalSeconds)*time.Second, logger.Named("snapshot"))
	if err != nil {
		return fmt.Errorf("building snapshot engine: %w", err)
	}

	// Load any prior snapshot before the BMP listener starts accepting
	// connections, per spec.md §4.5.
	if err := snapEngine.Load(); err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	producer, err := kafka.NewProducer(cfg.Kafka, logger.Named("kafka"))
	if err != nil {
		return fmt.Errorf("building kafka producer: %w", err)
	}
	defer producer.Close()

	listener := session.NewListener(cfg.Service.BMPListen, index, producer, time.Duration(cfg.Session.IdleTimeoutSeconds)*time.Second, logger.Named("session"))

	httpServer := httpd.NewServer(cfg.Service.HTTPListen, index, cfg.Routers, listener, snapEngine, logger.Named("httpd"))
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	snapshotDone := make(chan struct{})
	go func() { snapEngine.Run(ctx); close(snapshotDone) }()

	logger.Info("risotto started, accepting BMP connections")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	listenerExited := false
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-done:
		listenerExited = true
		if err != nil {
			logger.Error("bmp listener stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel the accept loop and snapshot ticker; both drain bounded
	// work (in-flight sessions, one final snapshot write) before
	// returning (spec.md §5, "Cancellation").
	cancel()

	drained := make(chan struct{})
	go func() {
		if !listenerExited {
			<-done
		}
		<-snapshotDone
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info("all sessions and snapshot writer stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some sessions may not have finished draining")
	}

	logger.Info("risotto stopped")
	return nil
}
