package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowcanvas/bridge/internal/bridge"
	"github.com/flowcanvas/bridge/internal/logging"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	workingDir, err := os.Getwd()
	if err != nil {
		logger.Error("main.getwd_failed", "error", err.Error())
		os.Exit(1)
	}

	mgr, err := bridge.NewManager(bridge.Config{
		ListenAddr:       cfg.ListenAddr,
		EditorListenAddr: cfg.EditorAddr,
		WorkflowPath:     cfg.WorkflowPath,
		RequestTimeout:   cfg.requestTimeout(),
	}, logger)
	if err != nil {
		logger.Error("main.init_failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := mgr.Start(ctx, workingDir)
	if err != nil {
		// Unrecoverable startup failure (e.g. port bind) is the one
		// error class that terminates the process.
		logger.Error("main.start_failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("main.ready", "port", port, "editor_addr", mgr.EditorAddr())

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("main.stop_failed", "error", err.Error())
		os.Exit(1)
	}
}

// newLogger builds the process-wide logger: text handler on stderr
// wrapped with correlation attribute injection. Installed once here,
// read thereafter via slog.Default or injection.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
