package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/alanyang/lead-mesh/internal/wire"
)

func main() {
	cfg, logLevel, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := wire.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP + MCP server listening", "addr", app.Server.Addr)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("lead-mesh server stopped")
}

// parseFlags layers command-line flags over the environment: every flag
// defaults to its env var, so an explicit flag wins.
func parseFlags(args []string) (wire.Config, slog.Level, error) {
	cfg := wire.ConfigFromEnv()
	var level string

	flagSet := pflag.NewFlagSet("lead-mesh", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port (env PORT)")
	flagSet.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage backend: postgres or memory (env STORAGE)")
	flagSet.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string (env DATABASE_URL)")
	flagSet.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "publish assignments to this broker; empty disables (env AMQP_URL)")
	flagSet.StringVar(&cfg.AMQPExchange, "amqp-exchange", cfg.AMQPExchange, "topic exchange for assignment events (env AMQP_EXCHANGE)")
	flagSet.BoolVar(&cfg.AutoAssign, "auto-assign", cfg.AutoAssign, "assign new leads on intake (env AUTO_ASSIGN)")
	flagSet.DurationVar(&cfg.SweepDebounce, "sweep-debounce", cfg.SweepDebounce, "delay before sweeping the backlog after an agent becomes available")
	flagSet.StringVar(&level, "log-level", "info", "debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		return wire.Config{}, 0, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return wire.Config{}, 0, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return wire.Config{}, 0, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return cfg, lvl, nil
}
