package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChamsBouzaiene/finchat/internal/config"
	"github.com/ChamsBouzaiene/finchat/internal/factory"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "finchat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("finchat", flag.ExitOnError)
	addr := fs.String("addr", "", "HTTP listen address (overrides FINCHAT_ADDR)")
	dataDir := fs.String("data", "", "Data directory (overrides FINCHAT_DATA_DIR)")
	model := fs.String("model", "", "Default model id (overrides FINCHAT_DEFAULT_MODEL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *model != "" {
		cfg.DefaultModel = *model
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := factory.BuildApp(ctx, cfg, factory.WithLogger(logger))
	if err != nil {
		return err
	}
	defer app.Close()
	app.Start()

	logger.Info("finchat ready",
		"addr", cfg.Addr,
		"data_dir", cfg.DataDir,
		"default_model", cfg.DefaultModel,
		"max_tokens", cfg.MaxTokens,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.ListenAndServe(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
